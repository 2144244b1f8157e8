package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"flightwatch/internal/storage"
)

// DefaultCatchUpDays covers the target day and the one before it. The
// aggregate loop pauses a fixed interval after each pass, so its start time
// drifts; a drift across the grace boundary advances the target by two days.
const DefaultCatchUpDays = 2

// Options control which days Run targets.
type Options struct {
	GracePeriod time.Duration
	CatchUpDays int
}

// Result summarises one day's aggregation.
type Result struct {
	Day          time.Time `json:"day"`
	Skipped      bool      `json:"skipped"`
	Observations int       `json:"observations"`
	Baselines    int       `json:"baselines"`
}

// Aggregator rolls a day's observations up into per-group minimum prices.
type Aggregator struct {
	observations storage.ObservationStore
	baselines    storage.BaselineStore
	opts         Options
	logger       zerolog.Logger
}

// New constructs an Aggregator.
func New(observations storage.ObservationStore, baselines storage.BaselineStore, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.CatchUpDays <= 0 {
		opts.CatchUpDays = DefaultCatchUpDays
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	return &Aggregator{
		observations: observations,
		baselines:    baselines,
		opts:         opts,
		logger:       logger.With().Str("component", "aggregator").Logger(),
	}
}

// TargetDay returns the most recent UTC day that has fully elapsed by at
// least grace at instant now.
func TargetDay(now time.Time, grace time.Duration) time.Time {
	return storage.DateOf(now.Add(-grace)).AddDate(0, 0, -1)
}

// AggregateDay writes one baseline per grouping key for day, holding the
// minimum observed price. A day that already has baselines is left alone
// unless force is set; re-running it upserts the same rows.
func (a *Aggregator) AggregateDay(ctx context.Context, day time.Time, force bool) (Result, error) {
	day = storage.DateOf(day)
	result := Result{Day: day}

	if !force {
		done, err := a.baselines.HasBaselines(ctx, day)
		if err != nil {
			return result, fmt.Errorf("check baselines for %s: %w", day.Format(storage.DateLayout), err)
		}
		if done {
			result.Skipped = true
			a.logger.Debug().Str("day", day.Format(storage.DateLayout)).Msg("day already aggregated")
			return result, nil
		}
	}

	observations, err := a.observations.ListObservationsForDay(ctx, day)
	if err != nil {
		return result, fmt.Errorf("list observations for %s: %w", day.Format(storage.DateLayout), err)
	}
	result.Observations = len(observations)

	rows := MinPrices(day, observations)
	if len(rows) == 0 {
		a.logger.Info().Str("day", day.Format(storage.DateLayout)).Msg("no observations to aggregate")
		return result, nil
	}

	if err := a.baselines.SaveBaselines(ctx, day, rows); err != nil {
		return result, fmt.Errorf("save baselines for %s: %w", day.Format(storage.DateLayout), err)
	}
	result.Baselines = len(rows)

	a.logger.Info().
		Str("day", day.Format(storage.DateLayout)).
		Int("observations", result.Observations).
		Int("baselines", result.Baselines).
		Msg("daily baselines written")
	return result, nil
}

// Run aggregates the target day and up to CatchUpDays-1 earlier days that
// were missed. Days are processed oldest first and fail independently.
func (a *Aggregator) Run(ctx context.Context, now time.Time) ([]Result, error) {
	target := TargetDay(now, a.opts.GracePeriod)

	var (
		results []Result
		errs    []error
	)
	for back := a.opts.CatchUpDays - 1; back >= 0; back-- {
		if ctx.Err() != nil {
			break
		}
		day := target.AddDate(0, 0, -back)
		// a pass in progress completes even if shutdown arrives mid-write
		res, err := a.AggregateDay(context.WithoutCancel(ctx), day, false)
		if err != nil {
			a.logger.Error().Err(err).Str("day", day.Format(storage.DateLayout)).Msg("aggregation failed")
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// MinPrices groups observations by grouping key and keeps the minimum price
// of each group, ordered by key for stable writes.
func MinPrices(day time.Time, observations []storage.Observation) []storage.Baseline {
	mins := make(map[storage.GroupKey]int64)
	for _, obs := range observations {
		key := obs.Key()
		if current, ok := mins[key]; !ok || obs.Price < current {
			mins[key] = obs.Price
		}
	}

	keys := make([]storage.GroupKey, 0, len(mins))
	for key := range mins {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	rows := make([]storage.Baseline, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, key.Baseline(day, mins[key]))
	}
	return rows
}
