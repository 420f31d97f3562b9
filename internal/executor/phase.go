package executor

import (
	"sync"

	"github.com/harrison/foreman/internal/logger"
)

// Phase is one stage of the build pipeline state machine.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePlanning Phase = "planning"
	PhaseCoding   Phase = "coding"
	PhaseQAReview Phase = "qa_review"
	PhaseQAFixing Phase = "qa_fixing"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// IsTerminal reports whether the phase permanently locks the machine.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// legalEdges are the forward transitions. Any non-terminal phase may also
// transition to failed.
var legalEdges = map[Phase][]Phase{
	PhaseIdle:     {PhasePlanning},
	PhasePlanning: {PhaseCoding},
	PhaseCoding:   {PhaseQAReview},
	PhaseQAReview: {PhaseQAFixing, PhaseComplete},
	PhaseQAFixing: {PhaseQAReview},
}

// Machine is the phase state machine for one build. Illegal transition
// requests are rejected silently (logged, never an error): phase detection
// upstream is heuristic and illegal requests are expected under races.
type Machine struct {
	mu      sync.Mutex
	current Phase
	log     logger.Logger
	obs     Observer
}

// NewMachine creates a machine in the idle phase.
func NewMachine(log logger.Logger, obs Observer) *Machine {
	if log == nil {
		log = logger.Nop{}
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Machine{current: PhaseIdle, log: log, obs: obs}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition requests a phase change and reports whether it was accepted.
// Once a terminal phase is reached no further transition is accepted.
func (m *Machine) Transition(to Phase) bool {
	m.mu.Lock()
	from := m.current
	accepted := legalTransition(from, to)
	if accepted {
		m.current = to
	}
	m.mu.Unlock()

	if !accepted {
		m.log.Debugf("rejected phase transition %s -> %s", from, to)
		return false
	}
	m.log.Infof("phase %s -> %s", from, to)
	m.obs.PhaseChanged(from, to)
	return true
}

func legalTransition(from, to Phase) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	if to == PhaseFailed {
		return true
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
