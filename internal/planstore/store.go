// Package planstore persists the implementation plan for one build.
//
// The plan is shared with the agent executor, which mutates it
// concurrently. The store therefore never holds a long-lived in-memory
// copy: every decision point loads fresh from disk, every patch re-reads,
// mutates only the fields this engine owns, and writes back atomically.
package planstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/foreman/internal/filelock"
	"github.com/harrison/foreman/internal/models"
)

// PlanFileName is the fixed plan document name under a build directory.
const PlanFileName = "implementation_plan.json"

// Store reads and patches one build's plan document.
type Store struct {
	path string
}

// NewStore creates a store for the plan under the given build directory.
func NewStore(buildDir string) *Store {
	return &Store{path: filepath.Join(buildDir, PlanFileName)}
}

// Path returns the plan file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether a plan document has been written yet.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and normalizes the plan. The returned plan is a private copy;
// callers must not cache it across decision points.
func (s *Store) Load() (*models.Plan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan models.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", s.path, err)
	}
	return &plan, nil
}

// Save writes the plan atomically.
func (s *Store) Save(plan *models.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	data = append(data, '\n')
	if err := filelock.AtomicWrite(s.path, data); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// SetSubtaskStatus patches the status of a single subtask, leaving every
// other field untouched.
func (s *Store) SetSubtaskStatus(id, status string) error {
	return s.patch(func(plan *models.Plan) (bool, error) {
		st := findSubtask(plan, id)
		if st == nil {
			return false, fmt.Errorf("subtask %q not in plan", id)
		}
		if st.Status == status {
			return false, nil
		}
		st.Status = status
		return true, nil
	})
}

// EnsureCompleted forces a subtask to completed with a timestamp if the
// plan does not already show it completed. The agent executor is not fully
// reliable about self-reporting completion; this is the fallback patch.
// Returns true when a write happened. Idempotent: a second call on an
// already-completed subtask writes nothing.
func (s *Store) EnsureCompleted(id string, now time.Time) (bool, error) {
	changed := false
	err := s.patch(func(plan *models.Plan) (bool, error) {
		st := findSubtask(plan, id)
		if st == nil {
			return false, fmt.Errorf("subtask %q not in plan", id)
		}
		if st.Status == models.StatusCompleted {
			return false, nil
		}
		st.Status = models.StatusCompleted
		st.CompletedAt = models.Timestamp(now)
		changed = true
		return true, nil
	})
	return changed, err
}

// UpdateQASignoff patches the qa_signoff record in place. A nil record is
// created before mutate runs.
func (s *Store) UpdateQASignoff(mutate func(*models.QASignoff)) error {
	return s.patch(func(plan *models.Plan) (bool, error) {
		if plan.QASignoff == nil {
			plan.QASignoff = &models.QASignoff{Status: models.QAPending}
		}
		mutate(plan.QASignoff)
		return true, nil
	})
}

// AppendQAIteration appends one record to the plan's review audit log.
func (s *Store) AppendQAIteration(rec models.QAIteration) error {
	return s.patch(func(plan *models.Plan) (bool, error) {
		plan.QAIterationHistory = append(plan.QAIterationHistory, rec)
		return true, nil
	})
}

// patch is the read-mutate-write cycle every plan mutation goes through.
// The mutate func reports whether anything changed; unchanged plans are
// not rewritten.
func (s *Store) patch(mutate func(*models.Plan) (bool, error)) error {
	plan, err := s.Load()
	if err != nil {
		return err
	}
	changed, err := mutate(plan)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.Save(plan)
}

func findSubtask(plan *models.Plan, id string) *models.Subtask {
	for i := range plan.Phases {
		for j := range plan.Phases[i].Subtasks {
			if plan.Phases[i].Subtasks[j].ID == id {
				return &plan.Phases[i].Subtasks[j]
			}
		}
	}
	return nil
}
