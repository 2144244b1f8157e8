package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"flightwatch/internal/app"
)

var (
	simulatePrice       int64
	simulateAverage     int64
	simulateOrigin      string
	simulateDestination string
	simulateDays        int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic fare through the anomaly check and notifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 || simulateAverage <= 0 {
			return errors.New("--price and --avg must be greater than zero")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Origin:      strings.ToUpper(simulateOrigin),
			Destination: strings.ToUpper(simulateDestination),
			Price:       simulatePrice,
			Average:     simulateAverage,
			DaysBetween: simulateDays,
		})
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulatePrice, "price", 0, "Observed fare")
	simulateCmd.Flags().Int64Var(&simulateAverage, "avg", 0, "Historical average the fare is compared with")
	simulateCmd.Flags().StringVar(&simulateOrigin, "origin", "MOW", "Origin location code")
	simulateCmd.Flags().StringVar(&simulateDestination, "destination", "LED", "Destination location code")
	simulateCmd.Flags().IntVar(&simulateDays, "days-between", 0, "Round-trip length in days; 0 for one-way")
}
