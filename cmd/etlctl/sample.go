package main

import (
	"encoding/json"
	"fmt"

	"github.com/imperiopatitas/bsale_etl/workflow"
	"github.com/spf13/cobra"
)

var sampleLimit int

var sampleCmd = &cobra.Command{
	Use:   "sample [entity]",
	Short: "Print raw Bsale records without writing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runSample,
}

func init() {
	sampleCmd.Flags().IntVarP(&sampleLimit, "limit", "n", 5, "number of records")
	rootCmd.AddCommand(sampleCmd)
}

func runSample(cmd *cobra.Command, args []string) error {
	entity, err := workflow.ParseEntity(args[0])
	if err != nil {
		return err
	}
	records, err := runner.Sample(cmd.Context(), entity, sampleLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		cmd.Println("No records returned.")
		return nil
	}
	for _, r := range records {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format record: %w", err)
		}
		cmd.Println(string(data))
	}
	return nil
}
