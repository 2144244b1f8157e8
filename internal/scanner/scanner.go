package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flightwatch/internal/fetcher"
	"flightwatch/internal/monitor"
	"flightwatch/internal/storage"
)

// maxReportedErrors caps how many unit errors a failed cycle carries.
const maxReportedErrors = 5

// Options describe the route grid and scan concurrency.
type Options struct {
	Origins       []string
	Destinations  []string
	DaysAhead     int
	RoundTripDays []int
	Workers       int
}

// Checker evaluates a freshly stored observation.
type Checker interface {
	Check(ctx context.Context, obs storage.Observation) (monitor.Decision, error)
}

// Report summarises one scan cycle.
type Report struct {
	CycleID      string    `json:"cycle_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Combinations int       `json:"combinations"`
	Attempted    int       `json:"attempted"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	Quotes       int       `json:"quotes"`
	Stored       int       `json:"stored"`
	Malformed    int       `json:"malformed"`
	Alerts       int       `json:"alerts"`
}

// Scanner walks the route grid once per cycle.
type Scanner struct {
	opts         Options
	source       fetcher.QuoteFetcher
	observations storage.ObservationStore
	checker      Checker
	logger       zerolog.Logger
	now          func() time.Time
}

// New constructs a Scanner. checker may be nil to store without evaluating.
func New(opts Options, source fetcher.QuoteFetcher, observations storage.ObservationStore, checker Checker, logger zerolog.Logger) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Scanner{
		opts:         opts,
		source:       source,
		observations: observations,
		checker:      checker,
		logger:       logger.With().Str("component", "scanner").Logger(),
		now:          time.Now,
	}
}

// Combinations enumerates every query of one cycle: per route, one one-way
// query per day from tomorrow to today+DaysAhead, then one round-trip per
// day and offset.
func (s *Scanner) Combinations(now time.Time) []fetcher.Query {
	today := storage.DateOf(now)
	dates := make([]time.Time, 0, s.opts.DaysAhead)
	for i := 1; i <= s.opts.DaysAhead; i++ {
		dates = append(dates, today.AddDate(0, 0, i))
	}

	var queries []fetcher.Query
	for _, origin := range s.opts.Origins {
		for _, destination := range s.opts.Destinations {
			if origin == destination {
				continue
			}
			for _, dep := range dates {
				queries = append(queries, fetcher.Query{Origin: origin, Destination: destination, DepartureDate: dep})
			}
			for _, dep := range dates {
				for _, offset := range s.opts.RoundTripDays {
					ret := dep.AddDate(0, 0, offset)
					queries = append(queries, fetcher.Query{
						Origin:        origin,
						Destination:   destination,
						DepartureDate: dep,
						ReturnDate:    &ret,
					})
				}
			}
		}
	}
	return queries
}

type unitResult struct {
	quotes    int
	stored    int
	malformed int
	alerts    int
}

// ScanCycle queries every combination once. A failed combination does not
// stop its siblings; the cycle returns an error when any combination failed.
// Once ctx is cancelled no new combination starts, while those already
// running finish on a detached context.
func (s *Scanner) ScanCycle(ctx context.Context) (Report, error) {
	queries := s.Combinations(s.now())
	report := Report{
		CycleID:      uuid.NewString(),
		StartedAt:    s.now().UTC(),
		Combinations: len(queries),
	}
	logger := s.logger.With().Str("cycle_id", report.CycleID).Logger()
	logger.Info().Int("combinations", len(queries)).Msg("scan cycle started")

	var (
		mu     sync.Mutex
		errs   []error
		group  errgroup.Group
		detach = context.WithoutCancel(ctx)
	)
	group.SetLimit(s.opts.Workers)

	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		q := q
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			result, err := s.scanOne(detach, q, logger)

			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			report.Quotes += result.quotes
			report.Stored += result.stored
			report.Malformed += result.malformed
			report.Alerts += result.alerts
			if err != nil {
				report.Failed++
				errs = append(errs, err)
				return nil
			}
			report.Succeeded++
			return nil
		})
	}
	_ = group.Wait()

	report.Skipped = report.Combinations - report.Attempted
	report.FinishedAt = s.now().UTC()

	event := logger.Info()
	if report.Failed > 0 {
		event = logger.Warn()
	}
	event.
		Int("attempted", report.Attempted).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("quotes", report.Quotes).
		Int("stored", report.Stored).
		Int("malformed", report.Malformed).
		Int("alerts", report.Alerts).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("scan cycle finished")

	if report.Failed > 0 {
		if len(errs) > maxReportedErrors {
			errs = errs[:maxReportedErrors]
		}
		return report, fmt.Errorf("scan cycle %s: %d of %d combinations failed: %w",
			report.CycleID, report.Failed, report.Attempted, errors.Join(errs...))
	}
	return report, nil
}

// scanOne fetches one combination and ingests its quotes. Only source and
// storage failures fail the unit; malformed quotes are skipped.
func (s *Scanner) scanOne(ctx context.Context, q fetcher.Query, logger zerolog.Logger) (unitResult, error) {
	var result unitResult

	quotes, err := s.source.FetchQuotes(ctx, q)
	if err != nil {
		logger.Error().Err(err).Str("query", q.String()).Bool("transient", fetcher.IsTransient(err)).Msg("price source call failed")
		return result, fmt.Errorf("fetch %s: %w", q, err)
	}
	result.quotes = len(quotes)

	var storeErr error
	for _, quote := range quotes {
		obs, err := s.Ingest(ctx, quote, q)
		switch {
		case errors.Is(err, ErrMalformedQuote):
			result.malformed++
			logger.Warn().Err(err).Str("query", q.String()).RawJSON("quote", rawOrNull(quote)).Msg("skipping malformed quote")
			continue
		case errors.Is(err, ErrInvariant):
			result.malformed++
			logger.Error().Err(err).Str("query", q.String()).RawJSON("quote", rawOrNull(quote)).Msg("quote violates observation invariant")
			continue
		case err != nil:
			logger.Error().Err(err).Str("query", q.String()).Msg("failed to store observation")
			if storeErr == nil {
				storeErr = err
			}
			continue
		}
		result.stored++

		if s.checker == nil {
			continue
		}
		decision, checkErr := s.checker.Check(ctx, obs)
		if checkErr != nil {
			logger.Error().Err(checkErr).Str("key", obs.Key().String()).Msg("anomaly check failed")
		}
		if decision.Alerted && !decision.Suppressed {
			result.alerts++
		}
	}

	return result, storeErr
}

func rawOrNull(quote fetcher.Quote) []byte {
	if len(quote.Raw) == 0 {
		return []byte("null")
	}
	return quote.Raw
}
