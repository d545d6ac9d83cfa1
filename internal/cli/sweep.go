package cli

import (
	"github.com/spf13/cobra"

	"depegshield/internal/app"
)

var sweepBatch int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance pass (expire policies, retry payouts)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sweep(cmd.Context(), app.SweepOptions{Batch: sweepBatch})
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepBatch, "batch", 0, "Rows per sweep pass (defaults to config)")
}
