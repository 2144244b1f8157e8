package app

import (
	"context"
	"errors"
	"time"

	"flightwatch/internal/storage"
)

// SimulateOptions describe the synthetic fare pushed through the monitor.
type SimulateOptions struct {
	Origin      string
	Destination string
	Price       int64
	Average     int64
	DaysBetween int
}

// SimulateAlert seeds an in-memory history averaging opts.Average and checks
// a fare of opts.Price against it through the configured notifier.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.Price <= 0 || opts.Average <= 0 {
		return errors.New("price and average must be greater than zero")
	}

	now := time.Now().UTC()
	dep := storage.DateOf(now).AddDate(0, 0, 14)
	obs := storage.Observation{
		ObservedAt:    now,
		Origin:        opts.Origin,
		Destination:   opts.Destination,
		DepartureDate: dep,
		OneWay:        opts.DaysBetween <= 0,
		Price:         opts.Price,
	}
	if opts.DaysBetween > 0 {
		ret := dep.AddDate(0, 0, opts.DaysBetween)
		days := opts.DaysBetween
		obs.ReturnDate = &ret
		obs.DaysBetween = &days
	}
	if err := obs.Validate(); err != nil {
		return err
	}

	mem := storage.NewMemory()
	yesterday := storage.DateOf(now).AddDate(0, 0, -1)
	if err := mem.SaveBaselines(ctx, yesterday, []storage.Baseline{obs.Key().Baseline(yesterday, opts.Average)}); err != nil {
		return err
	}

	mon, err := a.newMonitor(mem, a.newNotifier())
	if err != nil {
		return err
	}

	decision, err := mon.Check(ctx, obs)
	if err != nil {
		return err
	}
	if !decision.Alerted {
		a.Logger.Info().
			Int64("price", opts.Price).
			Str("average", decision.Average.StringFixed(2)).
			Float64("threshold", a.Config.Monitor.Threshold).
			Msg("price is not below the anomaly threshold; no alert sent")
		return nil
	}

	a.Logger.Info().Str("savings_pct", decision.Alert.SavingsPct.StringFixed(1)).Msg("simulated alert dispatched")
	return nil
}
