package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"flightwatch/internal/app"
	"flightwatch/internal/storage"
)

var (
	aggregateDate  string
	aggregateForce bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Compute daily baselines by hand",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AggregateOptions{Force: aggregateForce}

		if aggregateDate != "" {
			day, err := storage.ParseDate(aggregateDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			opts.Day = &day
		} else if aggregateForce {
			return errors.New("--force requires --date")
		}

		return getApp().Aggregate(cmd.Context(), opts)
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateDate, "date", "", "UTC day to aggregate (YYYY-MM-DD); defaults to the scheduled target day")
	aggregateCmd.Flags().BoolVar(&aggregateForce, "force", false, "Recompute a day that already has baselines")
}
