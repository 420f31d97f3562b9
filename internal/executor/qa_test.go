package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/foreman/internal/feedback"
	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/planstore"
)

func completedPlan() *models.Plan {
	plan := twoPhasePlan()
	for i := range plan.Phases {
		for j := range plan.Phases[i].Subtasks {
			plan.Phases[i].Subtasks[j].Status = models.StatusCompleted
		}
	}
	return plan
}

func TestRunQAApprovedFirstPass(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())

	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		require.Equal(t, models.RoleReviewer, req.Role)
		setVerdict(t, dir, models.QAApproved)
		return outcome(models.OutcomeCompleted)
	}
	o, obs := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunQA(context.Background(), QAOptions{})
	assert.True(t, result.Approved)
	assert.Equal(t, QAReasonApproved, result.Reason)
	assert.Equal(t, 1, result.TotalIterations)
	assert.Equal(t, []string{"approved"}, obs.verdicts)

	report, err := os.ReadFile(filepath.Join(dir, "qa_report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "Approved: true")
	assert.FileExists(t, filepath.Join(dir, "manual_test_plan.md"))

	plan, err := planstore.NewStore(dir).Load()
	require.NoError(t, err)
	require.Len(t, plan.QAIterationHistory, 1)
	assert.Equal(t, "approved", plan.QAIterationHistory[0].Outcome)
}

func TestRunQARejectThenApprove(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())

	reviews := 0
	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Role == models.RoleReviewer {
			reviews++
			if reviews == 1 {
				setVerdict(t, dir, models.QARejected, models.QAIssue{Title: "Missing error handling in store", Severity: "major"})
			} else {
				setVerdict(t, dir, models.QAApproved)
			}
		}
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunQA(context.Background(), QAOptions{})
	assert.True(t, result.Approved)
	assert.Equal(t, 2, result.TotalIterations)
	assert.Equal(t, 1, runner.calls(models.RoleFixer))

	plan, err := planstore.NewStore(dir).Load()
	require.NoError(t, err)
	require.Len(t, plan.QAIterationHistory, 2)
	assert.Equal(t, "rejected", plan.QAIterationHistory[0].Outcome)
	assert.Equal(t, "approved", plan.QAIterationHistory[1].Outcome)
}

func TestRunQAEscalatesRecurringIssue(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())

	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Role == models.RoleReviewer {
			// Title case drifts between sessions but it is the same issue.
			setVerdict(t, dir, models.QARejected, models.QAIssue{Title: "  login FLOW broken "})
		}
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunQA(context.Background(), QAOptions{})
	assert.False(t, result.Approved)
	assert.Equal(t, QAReasonRecurringIssues, result.Reason)
	assert.Equal(t, 3, result.TotalIterations)
	assert.Equal(t, 2, runner.calls(models.RoleFixer), "no fix pass after the escalating occurrence")
}

func TestRunQAConsecutiveUnparseableVerdicts(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())

	runner := &fakeRunner{handle: func(req models.WorkRequest) *models.WorkResult {
		// Reviewer finishes without ever recording a verdict.
		return outcome(models.OutcomeCompleted)
	}}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunQA(context.Background(), QAOptions{})
	assert.False(t, result.Approved)
	assert.Equal(t, QAReasonConsecutiveErrors, result.Reason)
	assert.Equal(t, 3, result.TotalIterations)
	assert.Zero(t, runner.calls(models.RoleFixer))
}

func TestRunQAUnparseableCounterResetsOnVerdict(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())

	reviews := 0
	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Role != models.RoleReviewer {
			return outcome(models.OutcomeCompleted)
		}
		reviews++
		switch reviews {
		case 1, 2:
			// no verdict recorded
		case 3:
			setVerdict(t, dir, models.QARejected, models.QAIssue{Title: "flaky test in iterator"})
		default:
			setVerdict(t, dir, models.QAApproved)
		}
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunQA(context.Background(), QAOptions{})
	assert.True(t, result.Approved, "a parseable verdict resets the error streak")
	assert.Equal(t, 4, result.TotalIterations)
}

func TestRunQAMaxIterationsCeiling(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())

	reviews := 0
	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Role == models.RoleReviewer {
			reviews++
			// A different issue every session keeps the recurrence
			// heuristic quiet.
			setVerdict(t, dir, models.QARejected, models.QAIssue{Title: "issue " + string(rune('a'+reviews))})
		}
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunQA(context.Background(), QAOptions{MaxIterations: 2})
	assert.False(t, result.Approved)
	assert.Equal(t, QAReasonMaxIterations, result.Reason)
	assert.Equal(t, 2, result.TotalIterations)
	assert.Equal(t, 1, runner.calls(models.RoleFixer), "no fix pass after the final review")
}

func TestRunQAFeedbackPrePass(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())
	marker := filepath.Join(dir, feedback.MarkerFileName)
	content := "# Review notes\n\n- The CLI help text is wrong\n- Status output misses stuck subtasks\n"
	require.NoError(t, os.WriteFile(marker, []byte(content), 0o644))

	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Role == models.RoleReviewer {
			setVerdict(t, dir, models.QAApproved)
		}
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunQA(context.Background(), QAOptions{})
	assert.True(t, result.Approved)

	require.NotEmpty(t, runner.requests)
	assert.Equal(t, models.RoleFixer, runner.requests[0].Role, "feedback runs a fix pass before any review")
	assert.NoFileExists(t, marker, "marker is consumed once addressed")
}

func TestRunQAFeedbackMarkerSurvivesFailedFix(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())
	marker := filepath.Join(dir, feedback.MarkerFileName)
	require.NoError(t, os.WriteFile(marker, []byte("# Notes\n\n- Something\n"), 0o644))

	runner := &fakeRunner{}
	runner.handle = func(req models.WorkRequest) *models.WorkResult {
		if req.Role == models.RoleFixer {
			return failure("fixer crashed")
		}
		setVerdict(t, dir, models.QAApproved)
		return outcome(models.OutcomeCompleted)
	}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	o.RunQA(context.Background(), QAOptions{})
	assert.FileExists(t, marker, "marker stays when the fix pass did not succeed")
}

func TestRunQACancellation(t *testing.T) {
	dir := t.TempDir()
	writePlan(t, dir, completedPlan())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{handle: func(req models.WorkRequest) *models.WorkResult {
		return outcome(models.OutcomeCompleted)
	}}
	o, _ := newTestOrchestrator(t, dir, nil, runner)

	result := o.RunQA(ctx, QAOptions{})
	assert.False(t, result.Approved)
	assert.Equal(t, QAReasonCancelled, result.Reason)
}
