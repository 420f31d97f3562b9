package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harrison/foreman/internal/pause"
)

// NewResumeCommand creates the resume command, the operator side of the
// pause mailbox.
func NewResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [build-dir]",
		Short: "Signal a paused build to resume",
		Long: `Resume writes the resume marker into the build directory. An
orchestrator waiting on a rate-limit or auth pause picks the marker up on
its next poll and continues the build.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildDir := "."
			if len(args) > 0 {
				buildDir = args[0]
			}
			buildDir, err := filepath.Abs(buildDir)
			if err != nil {
				return err
			}
			if err := pause.WriteResumeMarker(buildDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resume marker written to %s\n", buildDir)
			return nil
		},
	}
}
