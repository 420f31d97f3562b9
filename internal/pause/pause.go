// Package pause implements the file-based mailbox that stalls a build on
// provider failures and waits for an external operator to resume it.
//
// The presence of a descriptor file is itself the pause signal. An
// operator (or an outer process) resumes the build either by writing the
// shared resume marker or, for auth stalls, by deleting the descriptor
// after refreshing credentials. Every wait has a hard ceiling so a build
// re-stalls rather than hangs forever.
package pause

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/foreman/internal/filelock"
	"github.com/harrison/foreman/internal/models"
)

// Mailbox file names under the unit of work's working directory.
const (
	RateLimitFileName = "rate_limit_pause.json"
	AuthFileName      = "auth_pause.json"
	ResumeFileName    = "RESUME"
)

// Kind discriminates the two stall conditions.
type Kind string

const (
	KindRateLimit Kind = "rate_limit"
	KindAuth      Kind = "auth"
)

// Default wait ceilings and poll interval.
const (
	DefaultRateLimitCeiling = 2 * time.Hour
	DefaultAuthCeiling      = 24 * time.Hour
	DefaultPollInterval     = 15 * time.Second
)

// Descriptor is the on-disk pause marker.
type Descriptor struct {
	Kind      Kind   `json:"kind"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
	ResetAt   string `json:"reset_at,omitempty"` // rate limits only, when the provider reported one
}

// WaitResult reports how a wait ended.
type WaitResult string

const (
	ResumedEarly WaitResult = "resumed_early" // resume marker observed
	Resumed      WaitResult = "resumed"       // auth descriptor removed by an external actor
	TimedOut     WaitResult = "timed_out"
	Cancelled    WaitResult = "cancelled"
)

// Signaler reads and writes the pause mailbox for one build. The fallback
// directory covers the case where work runs in an isolated working copy
// but the operator interacts with the primary build directory; it may be
// empty.
type Signaler struct {
	dir         string
	fallbackDir string

	PollInterval     time.Duration
	RateLimitCeiling time.Duration
	AuthCeiling      time.Duration
}

// NewSignaler creates a signaler for the given working directory with the
// default poll interval and ceilings.
func NewSignaler(dir, fallbackDir string) *Signaler {
	return &Signaler{
		dir:              dir,
		fallbackDir:      fallbackDir,
		PollInterval:     DefaultPollInterval,
		RateLimitCeiling: DefaultRateLimitCeiling,
		AuthCeiling:      DefaultAuthCeiling,
	}
}

// WritePause writes the pause descriptor for the given stall. resetAt is
// only meaningful for rate limits and may be nil.
func (s *Signaler) WritePause(kind Kind, reason string, resetAt *time.Time) error {
	desc := Descriptor{
		Kind:      kind,
		Reason:    reason,
		Timestamp: models.Timestamp(time.Now()),
	}
	if resetAt != nil {
		desc.ResetAt = models.Timestamp(*resetAt)
	}
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pause descriptor: %w", err)
	}
	if err := filelock.AtomicWrite(filepath.Join(s.dir, fileName(kind)), data); err != nil {
		return fmt.Errorf("write pause descriptor: %w", err)
	}
	return nil
}

// ReadPause returns the active descriptor for the kind, or nil.
func (s *Signaler) ReadPause(kind Kind) (*Descriptor, error) {
	for _, dir := range s.dirs() {
		data, err := os.ReadFile(filepath.Join(dir, fileName(kind)))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read pause descriptor: %w", err)
		}
		var desc Descriptor
		if err := json.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("parse pause descriptor: %w", err)
		}
		return &desc, nil
	}
	return nil, nil
}

// ClearPause removes the descriptor from both locations. Best effort.
func (s *Signaler) ClearPause(kind Kind) {
	for _, dir := range s.dirs() {
		os.Remove(filepath.Join(dir, fileName(kind)))
	}
}

// WaitRateLimit blocks until an external resume, the ceiling, or
// cancellation. On timeout the descriptor is removed so the build
// continues (and likely re-stalls) instead of hanging.
func (s *Signaler) WaitRateLimit(ctx context.Context) WaitResult {
	return s.wait(ctx, KindRateLimit, s.RateLimitCeiling, false)
}

// WaitAuth blocks like WaitRateLimit but also treats the descriptor
// disappearing as a resume: credential refresh flows delete the marker
// rather than writing the resume file.
func (s *Signaler) WaitAuth(ctx context.Context) WaitResult {
	return s.wait(ctx, KindAuth, s.AuthCeiling, true)
}

func (s *Signaler) wait(ctx context.Context, kind Kind, ceiling time.Duration, resumeOnRemoval bool) WaitResult {
	deadline := time.Now().Add(ceiling)
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return Cancelled
		}
		if s.consumeResumeMarker() {
			s.ClearPause(kind)
			return ResumedEarly
		}
		if resumeOnRemoval && !s.pauseExists(kind) {
			return Resumed
		}
		if time.Now().After(deadline) {
			s.ClearPause(kind)
			return TimedOut
		}
		select {
		case <-ctx.Done():
			return Cancelled
		case <-ticker.C:
		}
	}
}

// consumeResumeMarker deletes and reports any resume marker in either
// location.
func (s *Signaler) consumeResumeMarker() bool {
	found := false
	for _, dir := range s.dirs() {
		path := filepath.Join(dir, ResumeFileName)
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
			found = true
		}
	}
	return found
}

func (s *Signaler) pauseExists(kind Kind) bool {
	for _, dir := range s.dirs() {
		if _, err := os.Stat(filepath.Join(dir, fileName(kind))); err == nil {
			return true
		}
	}
	return false
}

func (s *Signaler) dirs() []string {
	if s.fallbackDir == "" || s.fallbackDir == s.dir {
		return []string{s.dir}
	}
	return []string{s.dir, s.fallbackDir}
}

func fileName(kind Kind) string {
	if kind == KindAuth {
		return AuthFileName
	}
	return RateLimitFileName
}

// WriteResumeMarker is the operator side of the mailbox: it signals an
// early resume to a waiting orchestrator.
func WriteResumeMarker(dir string) error {
	if err := filelock.AtomicWrite(filepath.Join(dir, ResumeFileName), []byte("resume\n")); err != nil {
		return fmt.Errorf("write resume marker: %w", err)
	}
	return nil
}
