package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/incentive"
)

var settleAt string

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle every objective whose end date has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		now, err := parseAt(settleAt)
		if err != nil {
			return err
		}

		docs, closeStore, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer closeStore()

		repo := incentive.NewRepository(docs)
		settler := incentive.NewSettler(repo, incentive.NewEvaluator(repo, repo, repo))
		report, err := settler.SettleDue(cmd.Context(), now)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, s := range report.Settled {
			fmt.Fprintf(out, "settled %s: %s %q\n", s.ObjectiveID, s.Result, s.Message)
		}
		for id, ferr := range report.Failed {
			fmt.Fprintf(out, "failed  %s: %v\n", id, ferr)
		}
		fmt.Fprintf(out, "%d settled, %d skipped, %d failed\n",
			len(report.Settled), report.Skipped, len(report.Failed))

		if len(report.Failed) > 0 {
			return eris.Errorf("%d objective(s) failed to settle", len(report.Failed))
		}
		return nil
	},
}

func init() {
	settleCmd.Flags().StringVar(&settleAt, "at", "", "settlement instant (YYYY-MM-DD or RFC 3339, default now)")
	rootCmd.AddCommand(settleCmd)
}
