package executor

// Observer receives tagged progress events from the engine. Consumers
// (UI, telemetry) implement the subset they care about by embedding
// NopObserver.
type Observer interface {
	PhaseChanged(from, to Phase)
	IterationStarted(iteration int, subtaskID string)
	SubtaskCompleted(subtaskID string)
	SubtaskStuck(subtaskID, reason string)
	BuildPaused(kind, reason string)
	BuildResumed(kind, how string)
	QAVerdict(iteration int, verdict string)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) PhaseChanged(Phase, Phase)       {}
func (NopObserver) IterationStarted(int, string)    {}
func (NopObserver) SubtaskCompleted(string)         {}
func (NopObserver) SubtaskStuck(string, string)     {}
func (NopObserver) BuildPaused(string, string)      {}
func (NopObserver) BuildResumed(string, string)     {}
func (NopObserver) QAVerdict(int, string)           {}
