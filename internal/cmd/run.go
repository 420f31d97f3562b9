package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/foreman/internal/agent"
	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/executor"
	"github.com/harrison/foreman/internal/insights"
	"github.com/harrison/foreman/internal/logger"
)

// NewRunCommand creates the run command that drives one build.
func NewRunCommand() *cobra.Command {
	var (
		configPath string
		workDir    string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run [build-dir]",
		Short: "Drive a build to completion",
		Long: `Run drives the build pipeline for the given build directory:
planning (when no plan exists yet), work iteration over the plan's
subtasks, and the QA review/fix cycle. Exits non-zero when the build
ends in the failed phase.`,
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

			if configPath == "" {
				configPath = filepath.Join(buildDir, "foreman.yaml")
			}
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			console := logger.NewConsoleLogger(os.Stdout, cfg.LogLevel)
			log := logger.Logger(console)
			fileLog, err := logger.NewFileLogger(filepath.Join(buildDir, cfg.LogDir))
			if err != nil {
				console.Warnf("build log unavailable: %v", err)
			} else {
				defer fileLog.Close()
				log = logger.Tee{console, fileLog}
			}

			opts := &executor.Options{Logger: log, WorkDir: workDir}
			if cfg.Insights.Enabled {
				store, err := insights.Open(filepath.Join(buildDir, cfg.Insights.DBPath))
				if err != nil {
					log.Warnf("insights store unavailable: %v", err)
				} else {
					defer store.Close()
					opts.Insights = store
				}
			}

			runnerDir := workDir
			if runnerDir == "" {
				runnerDir = buildDir
			}
			runner := agent.NewCLIRunner(runnerDir)

			orch, err := executor.New(buildDir, cfg, runner, agent.DefaultPrompts(buildDir), opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := orch.RunBuild(ctx)
			log.Infof("build finished: phase=%s iterations=%d duration=%s",
				result.FinalPhase, result.TotalIterations, result.Duration.Round(time.Second))
			if !result.Success {
				if result.Error != "" {
					return fmt.Errorf("build did not complete: %s", result.Error)
				}
				return fmt.Errorf("build did not complete (phase %s)", result.FinalPhase)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default <build-dir>/foreman.yaml)")
	cmd.Flags().StringVarP(&workDir, "work-dir", "w", "", "isolated working copy the agent runs in")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "override log level (trace, debug, info, warn, error)")
	return cmd
}
