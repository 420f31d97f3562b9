package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SubtaskError is an error attributed to one subtask's execution.
type SubtaskError struct {
	SubtaskID string
	Message   string
	Err       error
	Timestamp time.Time
}

// NewSubtaskError creates a SubtaskError with the current timestamp.
func NewSubtaskError(id, msg string, err error) *SubtaskError {
	return &SubtaskError{SubtaskID: id, Message: msg, Err: err, Timestamp: time.Now()}
}

func (e *SubtaskError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("subtask %s: %s", e.SubtaskID, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

func (e *SubtaskError) Unwrap() error { return e.Err }

// PlanValidationError is returned when a generated plan fails shape
// validation after the re-planning budget is exhausted.
type PlanValidationError struct {
	Attempts int
	Err      error
}

func (e *PlanValidationError) Error() string {
	return fmt.Sprintf("plan validation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PlanValidationError) Unwrap() error { return e.Err }

// IsSubtaskError checks whether the error is or wraps a SubtaskError.
func IsSubtaskError(err error) bool {
	if err == nil {
		return false
	}
	var se *SubtaskError
	return errors.As(err, &se)
}
