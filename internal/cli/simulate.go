package cli

import (
	"time"

	"github.com/spf13/cobra"

	"depegshield/internal/app"
)

var (
	simulateAsset    string
	simulatePrice    string
	simulateCoverage string
	simulateStake    string
	simulateDuration time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a depeg scenario against in-memory state",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Asset:    simulateAsset,
			Price:    simulatePrice,
			Coverage: simulateCoverage,
			Stake:    simulateStake,
			Duration: simulateDuration,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "USDX", "Asset identifier for the scenario")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "0.92", "Published price (18dp decimal)")
	simulateCmd.Flags().StringVar(&simulateCoverage, "coverage", "1000", "Coverage amount for the policy")
	simulateCmd.Flags().StringVar(&simulateStake, "stake", "5000", "Insurer stake backing the cover")
	simulateCmd.Flags().DurationVar(&simulateDuration, "duration", 30*24*time.Hour, "Policy duration")
}
