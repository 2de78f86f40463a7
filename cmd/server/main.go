/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the incentive engine. Loads configuration,
  initializes logging, and dispatches to subcommands.

COMMANDS:
  serve                      HTTP API with the settlement scheduler
  evaluate <objective-id>    One evaluation printed as JSON
  seed <file.yaml>           Load a scenario file into the store
  settle                     Settle every due objective once
  token <user-id>            Issue a development bearer token

CONFIGURATION:
  config.yaml in the working directory and INCENTIVE_* environment
  variables, e.g. INCENTIVE_STORE_DRIVER=postgres,
  INCENTIVE_STORE_DSN=postgres://localhost/incentives.

EXAMPLES:
  # Run against the default SQLite file
  ./incentive-engine serve

  # In-memory store on another port
  INCENTIVE_STORE_DRIVER=memory ./incentive-engine serve --port 3000

  # Evaluate as of a given day
  ./incentive-engine evaluate obj-1 --at 2025-03-31

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "incentive-engine",
	Short: "Evaluate incentivized objectives",
	Long:  "Stores objectives, incentives and tasks, and computes what each incentivized objective pays out.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
