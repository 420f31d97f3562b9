// Package recovery decides what to do about failed units of work: it
// classifies failures, keeps the per-subtask attempt history, detects
// circular fix loops, and persists the restart checkpoint.
package recovery

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harrison/foreman/internal/filelock"
)

const (
	// CircularFixThreshold is the number of identical failure signatures
	// within the window that flags a circular fix loop.
	CircularFixThreshold = 3

	// circularWindow bounds how far back attempts count toward rate and
	// threshold computations. Older entries are ignored, not deleted.
	circularWindow = 2 * time.Hour

	// maxAttemptsPerSubtask caps stored history per subtask id.
	maxAttemptsPerSubtask = 20

	// maxErrorLen truncates stored error text.
	maxErrorLen = 500
)

// HistoryFileName is the attempt history document, kept under the build's
// memory subdirectory.
const HistoryFileName = "attempt_history.json"

// Action is the recovery decision for a failed attempt.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionSkip     Action = "skip"
	ActionEscalate Action = "escalate"
)

// Decision pairs an action with a human-readable reason for the audit log.
type Decision struct {
	Action  Action
	Failure FailureType
	Reason  string
}

// Attempt is one recorded failed attempt for a subtask.
type Attempt struct {
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error"`
	Failure   FailureType `json:"failure_type"`
	Hash      string      `json:"error_hash"`
}

type historyDoc struct {
	Attempts map[string][]Attempt `json:"attempts"`
	Stuck    []string             `json:"stuck_subtasks"`
}

// Manager owns the attempt history and stuck set for one build. Created
// once per build; the history file lives under <buildDir>/memory/.
type Manager struct {
	path string

	mu       sync.Mutex
	attempts map[string][]Attempt
	stuck    map[string]bool
	now      func() time.Time
}

// NewManager creates the manager, loading any existing history document.
func NewManager(buildDir string) (*Manager, error) {
	m := &Manager{
		path:     filepath.Join(buildDir, "memory", HistoryFileName),
		attempts: make(map[string][]Attempt),
		stuck:    make(map[string]bool),
		now:      time.Now,
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read attempt history: %w", err)
	}
	var doc historyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse attempt history %s: %w", m.path, err)
	}
	if doc.Attempts != nil {
		m.attempts = doc.Attempts
	}
	for _, id := range doc.Stuck {
		m.stuck[id] = true
	}
	return m, nil
}

// RecordAttempt classifies and appends a failed attempt for the subtask,
// then persists the history. Entries beyond the cap are dropped oldest
// first.
func (m *Manager) RecordAttempt(id, errorText string) (FailureType, error) {
	failure := Classify(errorText)

	m.mu.Lock()
	entry := Attempt{
		Timestamp: m.now(),
		Error:     truncate(errorText, maxErrorLen),
		Failure:   failure,
		Hash:      hashError(errorText),
	}
	records := append(m.attempts[id], entry)
	if len(records) > maxAttemptsPerSubtask {
		records = records[len(records)-maxAttemptsPerSubtask:]
	}
	m.attempts[id] = records
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return failure, err
	}
	return failure, nil
}

// AttemptCount returns the number of recorded attempts for the subtask
// within the sliding window.
func (m *Manager) AttemptCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-circularWindow)
	n := 0
	for _, a := range m.attempts[id] {
		if a.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// IsCircularFix reports whether any single failure signature has recurred
// CircularFixThreshold times within the window for this subtask. This is
// what stops the engine from endlessly re-attempting a fix that produces
// the identical failure.
func (m *Manager) IsCircularFix(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-circularWindow)
	counts := make(map[string]int)
	for _, a := range m.attempts[id] {
		if !a.Timestamp.After(cutoff) {
			continue
		}
		counts[a.Hash]++
		if counts[a.Hash] >= CircularFixThreshold {
			return true
		}
	}
	return false
}

// DetermineRecoveryAction decides the next step for a failed subtask.
// Priority: circular fix beats everything, then the retry budget, then
// the failure classification.
func (m *Manager) DetermineRecoveryAction(id, errorText string, maxRetries int) Decision {
	failure := Classify(errorText)

	if m.IsCircularFix(id) {
		return Decision{
			Action:  ActionEscalate,
			Failure: FailureCircularFix,
			Reason:  fmt.Sprintf("identical failure repeated %d times for %s", CircularFixThreshold, id),
		}
	}
	if count := m.AttemptCount(id); count >= maxRetries {
		return Decision{
			Action:  ActionSkip,
			Failure: failure,
			Reason:  fmt.Sprintf("retry budget exhausted (%d/%d attempts)", count, maxRetries),
		}
	}
	switch failure {
	case FailureRateLimited:
		return Decision{Action: ActionRetry, Failure: failure, Reason: "provider rate limited; retry after backoff"}
	case FailureAuthFailure:
		return Decision{Action: ActionEscalate, Failure: failure, Reason: "authentication failure requires credential refresh"}
	case FailureContextExhausted:
		return Decision{Action: ActionRetry, Failure: failure, Reason: "context exhausted; retry with a fresh context"}
	default:
		return Decision{Action: ActionRetry, Failure: failure, Reason: "transient failure; retry"}
	}
}

// MarkStuck adds the subtask to the persistent stuck set.
func (m *Manager) MarkStuck(id string) error {
	m.mu.Lock()
	m.stuck[id] = true
	m.mu.Unlock()
	return m.persist()
}

// StuckSubtasks returns the stuck set in sorted order.
func (m *Manager) StuckSubtasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.stuck))
	for id := range m.stuck {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Attempts returns a copy of the recorded attempts for a subtask.
func (m *Manager) Attempts(id string) []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, len(m.attempts[id]))
	copy(out, m.attempts[id])
	return out
}

func (m *Manager) persist() error {
	m.mu.Lock()
	doc := historyDoc{Attempts: m.attempts, Stuck: make([]string, 0, len(m.stuck))}
	for id := range m.stuck {
		doc.Stuck = append(doc.Stuck, id)
	}
	sort.Strings(doc.Stuck)
	data, err := json.MarshalIndent(doc, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode attempt history: %w", err)
	}
	if err := filelock.AtomicWrite(m.path, data); err != nil {
		return fmt.Errorf("write attempt history: %w", err)
	}
	return nil
}

// hashError produces a case- and whitespace-insensitive dedup signature of
// the error text. FNV, not a cryptographic hash: collisions merely merge
// two failure signatures, which is acceptable for loop detection.
func hashError(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("%016x", h.Sum64())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
