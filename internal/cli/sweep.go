package cli

import (
	"github.com/spf13/cobra"

	"fare-hunter/internal/app"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one full grid scan immediately and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SweepOptions{
			DryRun: sweepDryRun,
		}
		return getApp().Sweep(cmd.Context(), opts)
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Search and score without persisting or alerting")
}
