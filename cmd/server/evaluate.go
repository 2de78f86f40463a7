package main

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/incentive"
)

var evaluateAt string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <objective-id>",
	Short: "Evaluate one objective and print {result, message}",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		now, err := parseAt(evaluateAt)
		if err != nil {
			return err
		}

		docs, closeStore, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer closeStore()

		repo := incentive.NewRepository(docs)
		evaluator := incentive.NewEvaluator(repo, repo, repo)
		_, ev, err := evaluator.EvaluateByID(cmd.Context(), incentive.ObjectiveID(args[0]), now)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(api.EvaluationResponse{Result: ev.Result, Message: ev.Message})
	},
}

// parseAt reads a --at flag: empty is the current instant, otherwise a
// YYYY-MM-DD day (start of day, UTC) or an RFC 3339 timestamp.
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := incentive.ParseDate(s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid --at %q", s)
	}
	return d.Time, nil
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateAt, "at", "", "evaluation instant (YYYY-MM-DD or RFC 3339, default now)")
	rootCmd.AddCommand(evaluateCmd)
}
