package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flightwatch/internal/alerting"
	"flightwatch/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Options tune the anomaly decision.
type Options struct {
	HistoryDays int
	Threshold   decimal.Decimal
	Cooldown    time.Duration
	Currency    string
}

// Decision reports what Check concluded for one observation.
type Decision struct {
	Evaluated  bool
	Alerted    bool
	Suppressed bool
	Samples    int64
	Average    decimal.Decimal
	Alert      *alerting.Alert
}

// Monitor compares fresh observations against the trailing baseline average.
type Monitor struct {
	store    storage.BaselineStore
	notifier alerting.Notifier
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[cooldownKey]time.Time
}

type cooldownKey struct {
	key   storage.GroupKey
	price int64
}

// New constructs a Monitor. The threshold must lie strictly between 0 and 1.
func New(store storage.BaselineStore, notifier alerting.Notifier, opts Options, logger zerolog.Logger) (*Monitor, error) {
	if store == nil {
		return nil, errors.New("monitor: baseline store required")
	}
	if opts.HistoryDays <= 0 {
		return nil, fmt.Errorf("monitor: history days must be positive, got %d", opts.HistoryDays)
	}
	if !opts.Threshold.IsPositive() || !opts.Threshold.LessThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("monitor: threshold %s outside (0, 1)", opts.Threshold)
	}
	if notifier == nil {
		notifier = alerting.NewLogNotifier(logger)
	}

	return &Monitor{
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "monitor").Logger(),
		now:      time.Now,
		lastSent: make(map[cooldownKey]time.Time),
	}, nil
}

// Check decides whether obs is anomalously cheap and, if so, notifies.
// A notifier failure is logged and returned; the decision is still reported.
func (m *Monitor) Check(ctx context.Context, obs storage.Observation) (Decision, error) {
	today := storage.DateOf(m.now())
	query := storage.HistoryQuery{
		Origin:      obs.Origin,
		Destination: obs.Destination,
		OneWay:      obs.OneWay,
		DaysBetween: obs.DaysBetween,
		From:        today.AddDate(0, 0, -m.opts.HistoryDays),
		To:          today,
	}

	stats, err := m.store.HistoryStats(ctx, query)
	if err != nil {
		return Decision{}, fmt.Errorf("load baseline history: %w", err)
	}
	if stats.Empty() {
		m.logger.Debug().Str("key", obs.Key().String()).Msg("no baseline history; skipping decision")
		return Decision{}, nil
	}

	decision := Decision{
		Evaluated: true,
		Samples:   stats.Count,
		Average:   stats.Average(),
	}
	if !IsAnomaly(obs.Price, stats, m.opts.Threshold) {
		return decision, nil
	}

	alert := buildAlert(obs, decision.Average, m.opts.Currency)
	decision.Alerted = true
	decision.Alert = &alert

	if !m.claim(obs) {
		decision.Suppressed = true
		m.logger.Debug().Str("key", obs.Key().String()).Int64("price", obs.Price).Msg("alert suppressed by cooldown")
		return decision, nil
	}

	m.logger.Info().
		Str("key", obs.Key().String()).
		Int64("price", obs.Price).
		Str("average", decision.Average.StringFixed(2)).
		Int64("samples", stats.Count).
		Msg("anomalously low fare")

	if err := m.notifier.Notify(ctx, alert); err != nil {
		m.release(obs)
		m.logger.Error().Err(err).Str("key", obs.Key().String()).Msg("failed to dispatch alert")
		return decision, fmt.Errorf("notify: %w", err)
	}
	return decision, nil
}

// IsAnomaly reports price < (sum/count) * threshold using exact arithmetic,
// evaluated as price*count < sum*threshold.
func IsAnomaly(price int64, stats storage.HistoryStats, threshold decimal.Decimal) bool {
	if stats.Empty() {
		return false
	}
	lhs := decimal.NewFromInt(price).Mul(decimal.NewFromInt(stats.Count))
	rhs := decimal.NewFromInt(stats.Sum).Mul(threshold)
	return lhs.LessThan(rhs)
}

func buildAlert(obs storage.Observation, average decimal.Decimal, currency string) alerting.Alert {
	price := decimal.NewFromInt(obs.Price)
	savings := average.Sub(price)
	pct := decimal.Zero
	if average.IsPositive() {
		pct = decimal.NewFromInt(1).Sub(price.Div(average)).Mul(hundred)
	}

	return alerting.Alert{
		Origin:        obs.Origin,
		Destination:   obs.Destination,
		DepartureDate: obs.DepartureDate,
		ReturnDate:    obs.ReturnDate,
		OneWay:        obs.OneWay,
		DaysBetween:   obs.DaysBetween,
		Price:         obs.Price,
		Average:       average,
		Savings:       savings,
		SavingsPct:    pct,
		Currency:      currency,
		ObservedAt:    obs.ObservedAt,
	}
}

func (m *Monitor) claim(obs storage.Observation) bool {
	if m.opts.Cooldown <= 0 {
		return true
	}

	key := cooldownKey{key: obs.Key(), price: obs.Price}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.opts.Cooldown {
		return false
	}
	m.lastSent[key] = now

	for k, ts := range m.lastSent {
		if now.Sub(ts) >= m.opts.Cooldown {
			delete(m.lastSent, k)
		}
	}
	return true
}

func (m *Monitor) release(obs storage.Observation) {
	if m.opts.Cooldown <= 0 {
		return
	}
	m.mu.Lock()
	delete(m.lastSent, cooldownKey{key: obs.Key(), price: obs.Price})
	m.mu.Unlock()
}
