package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/scenario"
)

var seedAll bool

var seedCmd = &cobra.Command{
	Use:   "seed [file.yaml | builtin-id]...",
	Short: "Load scenarios into the store and check their expectations",
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios, err := resolveScenarios(args, seedAll)
		if err != nil {
			return err
		}
		if len(scenarios) == 0 {
			return eris.New("nothing to seed: pass a file, a builtin id, or --all")
		}

		docs, closeStore, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer closeStore()

		repo := incentive.NewRepository(docs)
		evaluator := incentive.NewEvaluator(repo, repo, repo)
		out := cmd.OutOrStdout()

		failed := 0
		for _, s := range scenarios {
			if _, err := scenario.Load(cmd.Context(), repo, s); err != nil {
				return err
			}
			checks, err := scenario.Verify(cmd.Context(), evaluator, s)
			if err != nil {
				return err
			}
			for _, c := range checks {
				status := "ok"
				if !c.OK {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(out, "%-4s %s %s: %s %q (want %s %q)\n",
					status, s.ID, c.ObjectiveID, c.Result, c.Message, c.WantResult, c.WantMessage)
			}
		}

		if failed > 0 {
			return eris.Errorf("%d expectation(s) failed", failed)
		}
		return nil
	},
}

// resolveScenarios treats each argument as a file when it exists on disk and
// as a builtin id otherwise.
func resolveScenarios(args []string, all bool) ([]scenario.Scenario, error) {
	var out []scenario.Scenario
	if all {
		builtins, err := scenario.Builtins()
		if err != nil {
			return nil, err
		}
		out = append(out, builtins...)
	}

	for _, arg := range args {
		if _, err := os.Stat(arg); err == nil {
			s, err := scenario.ReadFile(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
			continue
		}
		s, ok := scenario.Builtin(arg)
		if !ok {
			return nil, eris.Errorf("no scenario file or builtin named %q", arg)
		}
		out = append(out, s)
	}
	return out, nil
}

func init() {
	seedCmd.Flags().BoolVar(&seedAll, "all", false, "load every builtin scenario")
	rootCmd.AddCommand(seedCmd)
}
