package cmd

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/insights"
)

// NewHistoryCommand creates the history command, which lists recorded
// subtask executions from the insights store.
func NewHistoryCommand() *cobra.Command {
	var (
		buildID string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history [build-dir]",
		Short: "List recorded subtask executions",
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

			cfg, err := config.LoadConfig(filepath.Join(buildDir, "foreman.yaml"))
			if err != nil {
				return err
			}
			store, err := insights.Open(filepath.Join(buildDir, cfg.Insights.DBPath))
			if err != nil {
				return err
			}
			defer store.Close()

			var records []insights.Execution
			if buildID != "" {
				records, err = store.ForBuild(cmd.Context(), buildID, limit)
			} else {
				records, err = store.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded executions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSUBTASK\tOUTCOME\tATTEMPT\tDURATION")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%ds\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"),
					r.SubtaskID, r.Outcome, r.Attempt, r.DurationSecs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&buildID, "build", "b", "", "filter by build id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows to show")
	return cmd
}
