// Package agent adapts the claude CLI to the engine's unit-of-work
// contract. Each unit of work is one non-interactive CLI session; the
// session's output and exit state are mapped onto the discriminated
// outcome the engine understands.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/recovery"
)

// CLIRunner executes units of work through the claude CLI.
type CLIRunner struct {
	ClaudePath string
	WorkDir    string

	// Timeout bounds one CLI session. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// NewCLIRunner creates a runner with the default binary name.
func NewCLIRunner(workDir string) *CLIRunner {
	return &CLIRunner{ClaudePath: "claude", WorkDir: workDir}
}

// cliOutput is the JSON envelope the CLI prints in --output-format json
// mode.
type cliOutput struct {
	Content string `json:"content"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	Error   string `json:"error"`
}

// Run implements executor.AgentRunner.
func (r *CLIRunner) Run(ctx context.Context, req models.WorkRequest) (*models.WorkResult, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := []string{
		"-p", req.Prompt,
		"--dangerously-skip-permissions",
		"--output-format", "json",
	}
	cmd := exec.CommandContext(ctx, r.ClaudePath, args...)
	cmd.Dir = r.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &models.WorkResult{Outcome: models.OutcomeCancelled}, nil
	}

	combined := stdout.String() + "\n" + stderr.String()
	if err != nil {
		return classifyFailure(combined, err), nil
	}

	var out cliOutput
	if jsonErr := json.Unmarshal(stdout.Bytes(), &out); jsonErr == nil && out.IsError {
		return classifyFailure(out.Error+"\n"+out.Result, errors.New(out.Error)), nil
	}
	return &models.WorkResult{Outcome: models.OutcomeCompleted}, nil
}

// classifyFailure maps CLI failure text onto the provider-level outcomes
// the engine stalls on; everything else is a plain error outcome.
func classifyFailure(text string, err error) *models.WorkResult {
	msg := text
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	we := &models.WorkError{Message: msg, Retryable: true}
	switch recovery.Classify(text) {
	case recovery.FailureRateLimited:
		return &models.WorkResult{Outcome: models.OutcomeRateLimited, Error: we}
	case recovery.FailureAuthFailure:
		return &models.WorkResult{Outcome: models.OutcomeAuthFailure, Error: we}
	}
	if err != nil && msg == "" {
		we.Message = err.Error()
	}
	return &models.WorkResult{Outcome: models.OutcomeError, Error: we}
}
