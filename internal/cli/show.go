package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"depegshield/internal/app"
)

var (
	showAsset  string
	showLimit  int
	showClaims bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent accepted prices or claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if !showClaims && showAsset == "" {
			return fmt.Errorf("--asset is required unless --claims is set")
		}

		opts := app.ShowOptions{
			Asset:  showAsset,
			Limit:  showLimit,
			Claims: showClaims,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showAsset, "asset", "", "Asset whose price history to display")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showClaims, "claims", false, "Display recent claims instead of prices")
}
