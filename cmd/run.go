package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mna-news/translate-runner/internal/pipeline"
)

var runMaxRows int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one translation pass over the configured sheets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runMaxRows > 0 {
			cfg.Run.MaxRows = runMaxRows
		}

		env, err := initRunner(ctx, "run", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Runner.Run(ctx)
		if errors.Is(err, pipeline.ErrLocked) {
			zap.L().Warn("another run holds the lock, exiting")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "translation run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().IntVar(&runMaxRows, "max-rows", 0, "override run.max_rows for this invocation")
	rootCmd.AddCommand(runCmd)
}
