package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/foreman/internal/filelock"
	"github.com/harrison/foreman/internal/models"
)

// CheckpointFileName is the restart snapshot under a build directory.
// The format is flat "key: value" lines rather than the plan's JSON, so
// the snapshot stays human-inspectable independent of plan-schema
// evolution.
const CheckpointFileName = "checkpoint.txt"

// SaveCheckpoint writes the restart snapshot for a build directory.
func SaveCheckpoint(buildDir string, cp *models.Checkpoint) error {
	lines := []string{
		"build_id: " + cp.BuildID,
		"spec_id: " + cp.SpecID,
		"phase: " + cp.Phase,
		"last_subtask: " + cp.LastSubtask,
		"total_subtasks: " + strconv.Itoa(cp.TotalSubtasks),
		"completed_subtasks: " + strconv.Itoa(cp.CompletedSubtasks),
		"stuck_subtasks: " + strings.Join(cp.StuckSubtasks, ","),
		"complete: " + strconv.FormatBool(cp.Complete),
		"updated_at: " + cp.UpdatedAt.UTC().Format(time.RFC3339),
	}
	data := []byte(strings.Join(lines, "\n") + "\n")
	if err := filelock.AtomicWrite(filepath.Join(buildDir, CheckpointFileName), data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the restart snapshot. Returns (nil, nil) when no
// checkpoint exists or required keys are missing, so callers treat both
// as "start fresh".
func LoadCheckpoint(buildDir string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(buildDir, CheckpointFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	kv := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	for _, required := range []string{"phase", "total_subtasks", "completed_subtasks"} {
		if _, ok := kv[required]; !ok {
			return nil, nil
		}
	}

	cp := &models.Checkpoint{
		BuildID:     kv["build_id"],
		SpecID:      kv["spec_id"],
		Phase:       kv["phase"],
		LastSubtask: kv["last_subtask"],
	}
	cp.TotalSubtasks, _ = strconv.Atoi(kv["total_subtasks"])
	cp.CompletedSubtasks, _ = strconv.Atoi(kv["completed_subtasks"])
	cp.Complete, _ = strconv.ParseBool(kv["complete"])
	if ts, err := time.Parse(time.RFC3339, kv["updated_at"]); err == nil {
		cp.UpdatedAt = ts
	}
	if stuck := kv["stuck_subtasks"]; stuck != "" {
		cp.StuckSubtasks = strings.Split(stuck, ",")
		sort.Strings(cp.StuckSubtasks)
	}
	return cp, nil
}
