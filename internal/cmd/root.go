package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for foreman
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foreman",
		Short: "Autonomous build orchestration engine",
		Long: `Foreman drives a multi-phase software-construction pipeline
(plan, implement, review, fix) executed by Claude CLI agent sessions,
with no human in the loop during normal operation.

Progress survives restarts via on-disk checkpoints, failing subtasks are
retried within a budget, and rate-limit or auth stalls wait on a
file-based mailbox an operator can resume.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewResumeCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
