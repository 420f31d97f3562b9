package pause

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSignaler(dir, fallback string) *Signaler {
	s := NewSignaler(dir, fallback)
	s.PollInterval = 5 * time.Millisecond
	return s
}

func TestPauseResumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := fastSignaler(dir, "")

	require.NoError(t, s.WritePause(KindRateLimit, "429 too many requests", nil))
	require.NoError(t, WriteResumeMarker(dir))

	start := time.Now()
	result := s.WaitRateLimit(context.Background())
	assert.Equal(t, ResumedEarly, result)
	assert.Less(t, time.Since(start), time.Second, "must resume well before the ceiling")

	assert.NoFileExists(t, filepath.Join(dir, RateLimitFileName))
	assert.NoFileExists(t, filepath.Join(dir, ResumeFileName))
}

func TestWaitAuth(t *testing.T) {
	t.Run("descriptor removal counts as resume", func(t *testing.T) {
		dir := t.TempDir()
		s := fastSignaler(dir, "")
		require.NoError(t, s.WritePause(KindAuth, "401 unauthorized", nil))

		go func() {
			time.Sleep(20 * time.Millisecond)
			os.Remove(filepath.Join(dir, AuthFileName))
		}()
		assert.Equal(t, Resumed, s.WaitAuth(context.Background()))
	})

	t.Run("timeout removes the descriptor and returns control", func(t *testing.T) {
		dir := t.TempDir()
		s := fastSignaler(dir, "")
		s.AuthCeiling = 25 * time.Millisecond
		require.NoError(t, s.WritePause(KindAuth, "401 unauthorized", nil))

		assert.Equal(t, TimedOut, s.WaitAuth(context.Background()))
		assert.NoFileExists(t, filepath.Join(dir, AuthFileName))
	})
}

func TestWaitCancellation(t *testing.T) {
	dir := t.TempDir()
	s := fastSignaler(dir, "")
	require.NoError(t, s.WritePause(KindRateLimit, "rate limit", nil))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.Equal(t, Cancelled, s.WaitRateLimit(ctx))
}

func TestFallbackLocation(t *testing.T) {
	workDir := t.TempDir()
	buildDir := t.TempDir()
	s := fastSignaler(workDir, buildDir)
	require.NoError(t, s.WritePause(KindRateLimit, "rate limit", nil))

	// The operator interacts with the primary build directory even though
	// the unit of work runs in an isolated copy.
	require.NoError(t, WriteResumeMarker(buildDir))
	assert.Equal(t, ResumedEarly, s.WaitRateLimit(context.Background()))
	assert.NoFileExists(t, filepath.Join(buildDir, ResumeFileName))
	assert.NoFileExists(t, filepath.Join(workDir, RateLimitFileName))
}

func TestDescriptorContents(t *testing.T) {
	dir := t.TempDir()
	s := NewSignaler(dir, "")
	reset := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.WritePause(KindRateLimit, "usage limit reached", &reset))

	desc, err := s.ReadPause(KindRateLimit)
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, KindRateLimit, desc.Kind)
	assert.Equal(t, "usage limit reached", desc.Reason)
	assert.Equal(t, "2025-06-01T12:00:00Z", desc.ResetAt)
	assert.NotEmpty(t, desc.Timestamp)
}
