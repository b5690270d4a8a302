package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mna-news/translate-runner/internal/pipeline"
)

// statusReport is printed by the status command.
type statusReport struct {
	Day    string                `json:"day"`
	Sheets []pipeline.SheetTally `json:"sheets"`
	Usage  map[string]int        `json:"usage"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-sheet status counts and today's key usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initRunner(ctx, "status", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		tally, err := env.Runner.Tally(ctx)
		if err != nil {
			return eris.Wrap(err, "tally sheets")
		}

		day := time.Now().In(env.Location).Format(time.DateOnly)
		usage, err := env.Store.ListUsage(ctx, day)
		if err != nil {
			return eris.Wrap(err, "list key usage")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statusReport{Day: day, Sheets: tally, Usage: usage})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
