package app

import (
	"context"
	"time"

	"flightwatch/internal/aggregator"
	"flightwatch/internal/storage"
)

// Aggregate runs one aggregation pass by hand: a single day when opts.Day is
// set, otherwise the same target (and catch-up) days the service would pick.
func (a *App) Aggregate(ctx context.Context, opts AggregateOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	agg := a.newAggregator(store)

	if opts.Day == nil {
		results, err := agg.Run(ctx, time.Now())
		for _, res := range results {
			a.logResult(res)
		}
		return err
	}

	res, err := agg.AggregateDay(ctx, *opts.Day, opts.Force)
	if err != nil {
		return err
	}
	a.logResult(res)
	return nil
}

func (a *App) logResult(res aggregator.Result) {
	a.Logger.Info().
		Str("day", res.Day.Format(storage.DateLayout)).
		Bool("skipped", res.Skipped).
		Int("observations", res.Observations).
		Int("baselines", res.Baselines).
		Msg("aggregation pass finished")
}
