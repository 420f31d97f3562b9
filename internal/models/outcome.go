package models

import "time"

// Outcome is the discriminant returned by the agent executor for one unit
// of work. The engine never interprets why beyond the discriminant and the
// attached error text.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeMaxSteps    Outcome = "max_steps"
	OutcomeError       Outcome = "error"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeAuthFailure Outcome = "auth_failure"
	OutcomeCancelled   Outcome = "cancelled"
)

// Agent roles passed to the prompt callback.
const (
	RolePlanner  = "planner"
	RoleCoder    = "coder"
	RoleReviewer = "reviewer"
	RoleFixer    = "fixer"
)

// WorkError is the optional structured error attached to a work result.
type WorkError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *WorkError) Error() string { return e.Message }

// WorkRequest is the input handed to the agent executor for one unit of
// work. Subtask is nil for plan-level work (planning, review, fix).
type WorkRequest struct {
	Role    string
	Subtask *Subtask
	Attempt int
	Prompt  string
}

// WorkResult is the discriminated outcome of one unit of work.
type WorkResult struct {
	Outcome Outcome
	Error   *WorkError
}

// ErrorText returns the attached error message, or empty.
func (r *WorkResult) ErrorText() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// PhaseContext is the retry/error context supplied to the prompt callback.
// The engine provides facts; the callback owns phrasing.
type PhaseContext struct {
	Subtask       *Subtask
	Attempt       int
	PreviousError string
	Feedback      string
	QAIssues      []QAIssue
}

// IterationSummary reports the result of one work-iteration run.
type IterationSummary struct {
	TotalSubtasks     int
	CompletedSubtasks int
	StuckSubtasks     []string
	Iterations        int
	Cancelled         bool
}

// BuildResult is the terminal outcome of a whole build.
type BuildResult struct {
	Success         bool
	FinalPhase      string
	TotalIterations int
	Duration        time.Duration
	Error           string
}

// QAResult is the terminal outcome of a QA loop run.
type QAResult struct {
	Approved        bool
	TotalIterations int
	Reason          string // approved, recurring_issues, consecutive_errors, max_iterations, cancelled
	Error           string
}
