// Package filelock provides the build-directory guard lock and atomic file
// writes. The guard prevents two orchestrator instances from driving the
// same build; atomic writes make sure the agent executor never reads a
// partially-written document.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// GuardFileName is the lock file placed in a build directory while an
// orchestrator instance owns it.
const GuardFileName = "foreman.lock"

// Guard is an advisory cross-process lock on a build directory.
type Guard struct {
	flock *flock.Flock
	path  string
}

// NewGuard creates a guard for the given build directory. The lock file is
// created on Acquire.
func NewGuard(buildDir string) *Guard {
	path := filepath.Join(buildDir, GuardFileName)
	return &Guard{flock: flock.New(path), path: path}
}

// Acquire takes the guard without blocking. It fails if another
// orchestrator already holds the build directory.
func (g *Guard) Acquire() error {
	ok, err := g.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire build lock %s: %w", g.path, err)
	}
	if !ok {
		return fmt.Errorf("build directory already locked by another orchestrator (%s)", g.path)
	}
	return nil
}

// Release drops the guard. Safe to call when the lock was never acquired.
func (g *Guard) Release() error {
	if err := g.flock.Unlock(); err != nil {
		return fmt.Errorf("release build lock %s: %w", g.path, err)
	}
	return nil
}

// AtomicWrite writes data to path via a temp file plus rename, so a
// concurrent reader observes either the old document or the new one,
// never a partial write. Parent directories are created as needed.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	// Rename is atomic within one filesystem; the temp file lives in the
	// target directory for that reason.
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	tmp = nil
	return nil
}
