package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/imperiopatitas/bsale_etl/bootstrap"
	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/imperiopatitas/bsale_etl/workflow"
	"github.com/spf13/cobra"
)

// syncRunner is the part of workflow.Service the commands drive.
type syncRunner interface {
	Sync(ctx context.Context, entity workflow.Entity, since *time.Time) ([]workflow.Summary, error)
	CleanAndReload(ctx context.Context) ([]workflow.Summary, error)
	Sample(ctx context.Context, entity workflow.Entity, limit int) ([]json.RawMessage, error)
}

var (
	runner syncRunner
	opened *bootstrap.Runtime

	dryRun   bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "etlctl",
	Short:        "Run Bsale syncs from the command line",
	Long:         `Runs the same syncs as the ETL server against the destination configured in the environment (.env is read when present).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if runner != nil {
			return nil
		}
		settings, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			settings.LogLevel = logLevel
		}
		if err := settings.Validate(); err != nil {
			return err
		}
		rt, err := bootstrap.Open(cmd.Context(), settings, config.NewLogger(settings.LogLevel), bootstrap.Options{DryRun: dryRun})
		if err != nil {
			return err
		}
		opened, runner = rt, rt.Service
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if opened == nil {
			return nil
		}
		err := opened.Close()
		opened, runner = nil, nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "write to an in-memory destination instead of the configured one")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}
