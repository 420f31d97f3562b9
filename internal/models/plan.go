package models

import (
	"errors"
	"fmt"
	"time"
)

// Subtask status constants
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// QA signoff status constants
const (
	QAPending      = "pending"
	QAInReview     = "in_review"
	QAApproved     = "approved"
	QARejected     = "rejected"
	QAFixesApplied = "fixes_applied"
)

// Subtask is the atomic unit of implementation work in a plan.
type Subtask struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Status        string   `json:"status"`
	FilesToCreate []string `json:"files_to_create,omitempty"`
	FilesToModify []string `json:"files_to_modify,omitempty"`
	CompletedAt   string   `json:"completed_at,omitempty"`

	// Extra preserves fields written by the agent executor that this core
	// does not interpret. Patches must never strip them.
	Extra map[string]any `json:"-"`
}

// PlanPhase groups an ordered list of subtasks. Not to be confused with a
// build Phase (the orchestrator state machine).
type PlanPhase struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Subtasks []Subtask `json:"subtasks"`
}

// QAIssue is a single issue raised by a review session.
type QAIssue struct {
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Severity string `json:"severity,omitempty"`
	File     string `json:"file,omitempty"`
}

// QASignoff records the reviewer's most recent verdict.
type QASignoff struct {
	Status      string    `json:"status"`
	Session     int       `json:"session"`
	Issues      []QAIssue `json:"issues,omitempty"`
	TestResults string    `json:"test_results,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
}

// QAIteration is one entry in the plan's review audit log.
type QAIteration struct {
	Iteration int       `json:"iteration"`
	Outcome   string    `json:"outcome"` // approved, rejected, error
	Issues    []QAIssue `json:"issues,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Plan is the durable source of truth for one build. It is loaded fresh
// from disk before every decision point and written back after every
// mutation; the agent executor may mutate it concurrently.
type Plan struct {
	SpecID             string        `json:"spec_id,omitempty"`
	Phases             []PlanPhase   `json:"phases"`
	QASignoff          *QASignoff    `json:"qa_signoff,omitempty"`
	QAIterationHistory []QAIteration `json:"qa_iteration_history,omitempty"`

	// Extra preserves unknown top-level fields across read/patch/write.
	Extra map[string]any `json:"-"`
}

// Validate checks the plan shape after normalization: non-empty phases,
// each phase carrying an id, a name and a subtasks array, each subtask
// carrying id, description and a known status.
func (p *Plan) Validate() error {
	if len(p.Phases) == 0 {
		return errors.New("plan has no phases")
	}
	seen := make(map[string]bool)
	for i, ph := range p.Phases {
		if ph.ID == "" {
			return fmt.Errorf("phase %d missing id", i)
		}
		if ph.Name == "" {
			return fmt.Errorf("phase %q missing name", ph.ID)
		}
		if ph.Subtasks == nil {
			return fmt.Errorf("phase %q missing subtasks", ph.ID)
		}
		for j, st := range ph.Subtasks {
			if st.ID == "" {
				return fmt.Errorf("phase %q subtask %d missing id", ph.ID, j)
			}
			if seen[st.ID] {
				return fmt.Errorf("duplicate subtask id %q", st.ID)
			}
			seen[st.ID] = true
			if st.Description == "" {
				return fmt.Errorf("subtask %q missing description", st.ID)
			}
			if !validStatus(st.Status) {
				return fmt.Errorf("subtask %q has invalid status %q", st.ID, st.Status)
			}
		}
	}
	return nil
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Counts returns the total and completed subtask counts across all phases.
func (p *Plan) Counts() (total, completed int) {
	for _, ph := range p.Phases {
		for _, st := range ph.Subtasks {
			total++
			if st.Status == StatusCompleted {
				completed++
			}
		}
	}
	return total, completed
}

// IsComplete reports whether every subtask in the plan is completed.
func (p *Plan) IsComplete() bool {
	total, completed := p.Counts()
	return total > 0 && total == completed
}

// Subtask returns a copy of the subtask with the given id, or nil.
func (p *Plan) Subtask(id string) *Subtask {
	for _, ph := range p.Phases {
		for i := range ph.Subtasks {
			if ph.Subtasks[i].ID == id {
				st := ph.Subtasks[i]
				return &st
			}
		}
	}
	return nil
}

// NextEligible selects the next subtask to work in declared phase order:
// first pending subtask, else first in_progress subtask (resume after a
// crash), skipping any id in the stuck set. Returns nil when nothing is
// eligible.
func (p *Plan) NextEligible(stuck map[string]bool) *Subtask {
	for _, status := range []string{StatusPending, StatusInProgress} {
		for _, ph := range p.Phases {
			for i := range ph.Subtasks {
				st := ph.Subtasks[i]
				if st.Status != status || stuck[st.ID] {
					continue
				}
				return &st
			}
		}
	}
	return nil
}

// Timestamp returns the canonical timestamp format used in plan documents.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
