package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/logger"
	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/planstore"
)

func nopLogger() logger.Logger { return logger.Nop{} }

// recordingObserver captures events as flat strings for assertions.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	completed   []string
	stuck       []string
	paused      []string
	resumed     []string
	verdicts    []string
}

func (r *recordingObserver) PhaseChanged(from, to Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, fmt.Sprintf("%s->%s", from, to))
}

func (r *recordingObserver) IterationStarted(int, string) {}

func (r *recordingObserver) SubtaskCompleted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, id)
}

func (r *recordingObserver) SubtaskStuck(id, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stuck = append(r.stuck, id)
}

func (r *recordingObserver) BuildPaused(kind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = append(r.paused, kind)
}

func (r *recordingObserver) BuildResumed(kind, how string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed = append(r.resumed, kind+":"+how)
}

func (r *recordingObserver) QAVerdict(_ int, verdict string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, verdict)
}

// fakeRunner routes each unit of work through a caller-supplied handler.
// Handlers typically mutate the plan file the way the real agent executor
// would, then report an outcome.
type fakeRunner struct {
	mu       sync.Mutex
	handle   func(req models.WorkRequest) *models.WorkResult
	requests []models.WorkRequest
}

func (f *fakeRunner) Run(_ context.Context, req models.WorkRequest) (*models.WorkResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.handle(req), nil
}

func (f *fakeRunner) calls(role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req.Role == role {
			n++
		}
	}
	return n
}

func outcome(o models.Outcome) *models.WorkResult {
	return &models.WorkResult{Outcome: o}
}

func failure(msg string) *models.WorkResult {
	return &models.WorkResult{
		Outcome: models.OutcomeError,
		Error:   &models.WorkError{Message: msg},
	}
}

func noopPrompts(role string, _ models.PhaseContext) string { return role }

// fastConfig removes all real-time waits so loops run at test speed.
func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.IterationDelay = 0
	cfg.PollInterval = time.Millisecond
	cfg.RateLimitCeiling = 50 * time.Millisecond
	cfg.AuthCeiling = 50 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, dir string, cfg *config.Config, runner AgentRunner) (*Orchestrator, *recordingObserver) {
	t.Helper()
	if cfg == nil {
		cfg = fastConfig()
	}
	obs := &recordingObserver{}
	o, err := New(dir, cfg, runner, noopPrompts, &Options{Observer: obs})
	require.NoError(t, err)
	return o, obs
}

// twoPhasePlan is the standard fixture: two phases, three subtasks.
func twoPhasePlan() *models.Plan {
	return &models.Plan{
		SpecID: "spec-042",
		Phases: []models.PlanPhase{
			{
				ID:   "phase-1",
				Name: "Core",
				Subtasks: []models.Subtask{
					{ID: "st-1", Description: "Create the data model", Status: models.StatusPending},
					{ID: "st-2", Description: "Implement the store", Status: models.StatusPending},
				},
			},
			{
				ID:   "phase-2",
				Name: "Surface",
				Subtasks: []models.Subtask{
					{ID: "st-3", Description: "Wire the CLI", Status: models.StatusPending},
				},
			},
		},
	}
}

func writePlan(t *testing.T, dir string, plan *models.Plan) *planstore.Store {
	t.Helper()
	store := planstore.NewStore(dir)
	require.NoError(t, store.Save(plan))
	return store
}

func setVerdict(t *testing.T, dir, status string, issues ...models.QAIssue) {
	t.Helper()
	err := planstore.NewStore(dir).UpdateQASignoff(func(s *models.QASignoff) {
		s.Status = status
		s.Issues = issues
	})
	require.NoError(t, err)
}
