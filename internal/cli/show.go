package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"flightwatch/internal/app"
)

var (
	showLimit     int
	showBaselines bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent observations or baselines",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:     showLimit,
			Baselines: showBaselines,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showBaselines, "baselines", false, "Show daily baselines instead of raw observations")
}
