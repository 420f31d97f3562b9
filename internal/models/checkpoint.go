package models

import "time"

// Checkpoint is the compact restart snapshot written after material
// progress. It answers "did we already start this build and how far did we
// get" without replaying the plan.
type Checkpoint struct {
	BuildID          string
	SpecID           string
	Phase            string
	LastSubtask      string
	TotalSubtasks    int
	CompletedSubtasks int
	StuckSubtasks    []string
	Complete         bool
	UpdatedAt        time.Time
}
