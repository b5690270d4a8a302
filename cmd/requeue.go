package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	requeueSheet string
	requeueRows  []int
)

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Reset stuck or exhausted rows of a sheet to PENDING",
	Long:  "Without --rows, resets every in-flight row and every row that exhausted both provider tiers. With --rows, resets exactly the listed sheet rows.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initRunner(ctx, "run", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Runner.Requeue(ctx, requeueSheet, requeueRows)
		if err != nil {
			return eris.Wrap(err, "requeue rows")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requeued %d row(s) in %s\n", n, requeueSheet)
		return nil
	},
}

func init() {
	requeueCmd.Flags().StringVar(&requeueSheet, "sheet", "", "sheet name (required)")
	requeueCmd.Flags().IntSliceVar(&requeueRows, "rows", nil, "sheet row numbers to reset, e.g. 12,15")
	_ = requeueCmd.MarkFlagRequired("sheet")
	rootCmd.AddCommand(requeueCmd)
}
