package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/foreman/internal/filelock"
	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/planstore"
	"github.com/harrison/foreman/internal/recovery"
)

func TestRunBuildHappyPath(t *testing.T) {
	dir := t.TempDir()

	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		switch req.Role {
		case models.RolePlanner:
			writePlan(t, dir, twoPhasePlan())
		case models.RoleCoder:
			// The iterator patches the plan itself; the agent only works.
		case models.RoleReviewer:
			setVerdict(t, dir, models.QAApproved)
		}
		return outcome(models.OutcomeCompleted)
	}
	o, obs := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunBuild(context.Background())
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, string(PhaseComplete), result.FinalPhase)
	assert.Equal(t, 3, result.TotalIterations)
	assert.Equal(t, 1, runner.calls(models.RolePlanner))
	assert.Equal(t, 3, runner.calls(models.RoleCoder))
	assert.Equal(t, 1, runner.calls(models.RoleReviewer))

	assert.Equal(t, []string{
		"idle->planning",
		"planning->coding",
		"coding->qa_review",
		"qa_review->complete",
	}, obs.transitions)

	plan, err := planstore.NewStore(dir).Load()
	require.NoError(t, err)
	assert.True(t, plan.IsComplete())

	cp, err := recovery.LoadCheckpoint(dir)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Complete)
	assert.Equal(t, string(PhaseComplete), cp.Phase)
	assert.Equal(t, 3, cp.TotalSubtasks)
	assert.Equal(t, 3, cp.CompletedSubtasks)
	assert.NotEmpty(t, cp.BuildID)
	assert.Equal(t, "spec-042", cp.SpecID)
}

func TestRunBuildSkipsWorkWhenCheckpointComplete(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())
	require.NoError(t, recovery.SaveCheckpoint(dir, &models.Checkpoint{
		BuildID:           "build-123",
		Phase:             string(PhaseComplete),
		TotalSubtasks:     3,
		CompletedSubtasks: 3,
		Complete:          true,
		UpdatedAt:         time.Now(),
	}))

	runner := &fakeRunner{handle: func(req models.WorkRequest) *models.WorkResult {
		t.Errorf("no unit of work should run for a complete build, got %s", req.Role)
		return outcome(models.OutcomeError)
	}}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunBuild(context.Background())
	assert.True(t, result.Success)
	assert.Equal(t, string(PhaseComplete), result.FinalPhase)
	assert.Empty(t, runner.requests)
}

func TestRunBuildSkipsPlanningWhenPlanExists(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, twoPhasePlan())

	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Role == models.RoleReviewer {
			setVerdict(t, dir, models.QAApproved)
		}
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunBuild(context.Background())
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Zero(t, runner.calls(models.RolePlanner))
}

func TestRunBuildPlanningValidationRetries(t *testing.T) {
	dir := t.TempDir()

	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		// Every attempt produces a structurally invalid plan.
		err := os.WriteFile(filepath.Join(dir, planstore.PlanFileName), []byte(`{"phases": []}`), 0o644)
		require.NoError(t, err)
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunBuild(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, string(PhaseFailed), result.FinalPhase)
	assert.Contains(t, result.Error, "plan has no phases")
	assert.Equal(t, MaxPlanningValidationRetries+1, runner.calls(models.RolePlanner))
}

func TestRunBuildValidationFeedbackReachesNextAttempt(t *testing.T) {
	dir := t.TempDir()

	attempt := 0
	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		switch req.Role {
		case models.RolePlanner:
			attempt++
			if attempt == 1 {
				err := os.WriteFile(filepath.Join(dir, planstore.PlanFileName), []byte(`{"phases": []}`), 0o644)
				require.NoError(t, err)
			} else {
				writePlan(t, dir, twoPhasePlan())
			}
		case models.RoleReviewer:
			setVerdict(t, dir, models.QAApproved)
		}
		return outcome(models.OutcomeCompleted)
	}

	var secondContext models.PhaseContext
	prompts := func(role string, pc models.PhaseContext) string {
		if role == models.RolePlanner && pc.Attempt == 2 {
			secondContext = pc
		}
		return role
	}
	o, err := New(dir, fastConfig(), runner, prompts, nil)
	require.NoError(t, err)

	result := o.RunBuild(context.Background())
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 2, runner.calls(models.RolePlanner))
	assert.Contains(t, secondContext.PreviousError, "plan has no phases")
}

func TestRunBuildStallsWhenAllSubtasksStuck(t *testing.T) {
	dir := t.TempDir()
	plan := twoPhasePlan()
	plan.Phases = plan.Phases[:1]
	writePlan(t, dir, plan)

	runner := &fakeRunner{handle: func(req models.WorkRequest) *models.WorkResult {
		return failure("cannot resolve import cycle")
	}}
	cfg := fastConfig()
	cfg.MaxRetries = 1
	o, _ := newTestOrchestrator(t, dir, cfg, runner)

	result := o.RunBuild(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, string(PhaseFailed), result.FinalPhase)
	assert.Contains(t, result.Error, "stalled")
	assert.Zero(t, runner.calls(models.RoleReviewer), "no review for an incomplete plan")
}

func TestRunBuildGuardRejectsConcurrentRun(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, twoPhasePlan())

	guard := filelock.NewGuard(dir)
	require.NoError(t, guard.Acquire())
	defer guard.Release()

	runner := &fakeRunner{handle: func(req models.WorkRequest) *models.WorkResult {
		return outcome(models.OutcomeCompleted)
	}}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunBuild(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, string(PhaseFailed), result.FinalPhase)
	assert.Empty(t, runner.requests)
}

func TestRunBuildAbsorbsRateLimitWithoutBurningAttempts(t *testing.T) {
	dir := t.TempDir()
	plan := twoPhasePlan()
	plan.Phases = plan.Phases[:1]
	plan.Phases[0].Subtasks = plan.Phases[0].Subtasks[:1]
	writePlan(t, dir, plan)

	limited := false
	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Role == models.RoleCoder && !limited {
			limited = true
			return &models.WorkResult{
				Outcome: models.OutcomeRateLimited,
				Error:   &models.WorkError{Message: "429 usage limit reached", Retryable: true},
			}
		}
		if req.Role == models.RoleReviewer {
			setVerdict(t, dir, models.QAApproved)
		}
		return outcome(models.OutcomeCompleted)
	}
	cfg := fastConfig()
	cfg.MaxRetries = 1
	o, obs := newTestOrchestrator(t, dir, cfg, runner)

	result := o.RunBuild(context.Background())
	require.True(t, result.Success, "error: %s", result.Error)

	assert.Equal(t, []string{"rate_limit"}, obs.paused)
	assert.Equal(t, []string{"rate_limit:timed_out"}, obs.resumed)
	// The stall-and-retry happens inside one attempt: with a budget of one
	// the subtask must still complete.
	for _, req := range runner.requests {
		if req.Role == models.RoleCoder {
			assert.Equal(t, 1, req.Attempt)
		}
	}
}

func TestRunBuildCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{handle: func(req models.WorkRequest) *models.WorkResult {
		return outcome(models.OutcomeCompleted)
	}}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunBuild(ctx)
	assert.False(t, result.Success)
	assert.Equal(t, "cancelled", result.Error)
	assert.NotEqual(t, string(PhaseFailed), result.FinalPhase, "cancellation is not a failure")
}

func TestRunBuildResumesStuckSetFromHistory(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, twoPhasePlan())

	// A previous run parked st-1.
	rec, err := recovery.NewManager(dir)
	require.NoError(t, err)
	require.NoError(t, rec.MarkStuck("st-1"))

	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Subtask != nil && req.Subtask.ID == "st-1" {
			t.Error("st-1 exhausted its budget in a previous run and must not be retried")
		}
		if req.Role == models.RoleReviewer {
			setVerdict(t, dir, models.QAApproved)
		}
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunBuild(context.Background())
	// st-1 stays pending, so the build stalls rather than completing.
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "st-1")
}
