package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imperiopatitas/bsale_etl/workflow"
	"github.com/spf13/cobra"
)

var (
	syncSince string
	syncDays  int
	syncJSON  bool

	reloadConfirmed bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [entity]",
	Short: "Sync one entity, or all of them",
	Long: `Syncs clients, products, documents or all. Documents default to every
document Bsale returns; narrow them with --since or --days.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

var cleanAndReloadCmd = &cobra.Command{
	Use:   "clean-and-reload",
	Short: "Erase every table and reload from Bsale",
	Args:  cobra.NoArgs,
	RunE:  runCleanAndReload,
}

func init() {
	syncCmd.Flags().StringVar(&syncSince, "since", "", "first emission date for documents (YYYY-MM-DD)")
	syncCmd.Flags().IntVar(&syncDays, "days", 0, "load documents emitted in the last N days")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print summaries as JSON")
	cleanAndReloadCmd.Flags().BoolVar(&reloadConfirmed, "yes", false, "confirm the tables may be erased")
	cleanAndReloadCmd.Flags().BoolVar(&syncJSON, "json", false, "print summaries as JSON")
	rootCmd.AddCommand(syncCmd, cleanAndReloadCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	entity := workflow.EntityAll
	if len(args) == 1 {
		e, err := workflow.ParseEntity(args[0])
		if err != nil {
			return err
		}
		entity = e
	}
	since, err := sinceFromFlags(syncSince, syncDays, time.Now())
	if err != nil {
		return err
	}

	summaries, err := runner.Sync(cmd.Context(), entity, since)
	if perr := printSummaries(cmd, summaries); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("sync %s failed: %w", entity, err)
	}
	return nil
}

func runCleanAndReload(cmd *cobra.Command, args []string) error {
	if !reloadConfirmed {
		return errors.New("clean-and-reload erases every table; pass --yes to continue")
	}
	summaries, err := runner.CleanAndReload(cmd.Context())
	if perr := printSummaries(cmd, summaries); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("clean and reload failed: %w", err)
	}
	return nil
}

func sinceFromFlags(since string, days int, now time.Time) (*time.Time, error) {
	switch {
	case since != "" && days > 0:
		return nil, errors.New("use either --since or --days")
	case since != "":
		t, err := time.Parse(time.DateOnly, since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since %q: expected YYYY-MM-DD", since)
		}
		return &t, nil
	case days > 0:
		y, m, d := now.UTC().AddDate(0, 0, -days).Date()
		t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &t, nil
	default:
		return nil, nil
	}
}

func printSummaries(cmd *cobra.Command, summaries []workflow.Summary) error {
	if syncJSON {
		data, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal summaries: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	for _, s := range summaries {
		printSummary(cmd, s)
		if s.Details != nil {
			printSummary(cmd, *s.Details)
		}
	}
	return nil
}

func printSummary(cmd *cobra.Command, s workflow.Summary) {
	cmd.Printf("%-10s fetched=%d valid=%d rejected=%d skipped=%d warnings=%d upserted=%d failed_batches=%d (%s)\n",
		s.Entity, s.Fetched, s.Valid, s.Rejected, s.Skipped, s.Warnings, s.Upserted, s.FailedBatches, s.Duration.Round(time.Millisecond))
}
