package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/pause"
	"github.com/harrison/foreman/internal/planstore"
	"github.com/harrison/foreman/internal/recovery"
)

// statusReport is the YAML shape printed by the status command.
type statusReport struct {
	BuildID           string   `yaml:"build_id,omitempty"`
	Phase             string   `yaml:"phase"`
	TotalSubtasks     int      `yaml:"total_subtasks"`
	CompletedSubtasks int      `yaml:"completed_subtasks"`
	StuckSubtasks     []string `yaml:"stuck_subtasks,omitempty"`
	Complete          bool     `yaml:"complete"`
	Paused            string   `yaml:"paused,omitempty"`
	QAStatus          string   `yaml:"qa_status,omitempty"`
	UpdatedAt         string   `yaml:"updated_at,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [build-dir]",
		Short: "Show a build's checkpoint and pause state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildDir := "."
			if len(args) > 0 {
				buildDir = args[0]
			}
			buildDir, err := filepath.Abs(buildDir)
			if err != nil {
				return err
			}

			report := statusReport{Phase: "idle"}

			cp, err := recovery.LoadCheckpoint(buildDir)
			if err != nil {
				return err
			}
			if cp != nil {
				report.BuildID = cp.BuildID
				report.Phase = cp.Phase
				report.TotalSubtasks = cp.TotalSubtasks
				report.CompletedSubtasks = cp.CompletedSubtasks
				report.StuckSubtasks = cp.StuckSubtasks
				report.Complete = cp.Complete
				if !cp.UpdatedAt.IsZero() {
					report.UpdatedAt = models.Timestamp(cp.UpdatedAt)
				}
			}

			// Live plan counts win over the snapshot when the plan exists.
			store := planstore.NewStore(buildDir)
			if store.Exists() {
				plan, err := store.Load()
				if err != nil {
					return err
				}
				report.TotalSubtasks, report.CompletedSubtasks = plan.Counts()
				if plan.QASignoff != nil {
					report.QAStatus = plan.QASignoff.Status
				}
			}

			sig := pause.NewSignaler(buildDir, "")
			for _, kind := range []pause.Kind{pause.KindRateLimit, pause.KindAuth} {
				desc, err := sig.ReadPause(kind)
				if err != nil {
					return err
				}
				if desc != nil {
					report.Paused = fmt.Sprintf("%s (%s)", desc.Kind, desc.Reason)
				}
			}

			out, err := yaml.Marshal(report)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
