package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryBaselineKey struct {
	day time.Time
	key GroupKey
}

// Memory is an in-process store with the same semantics as Store. It backs
// dry runs and tests.
type Memory struct {
	mu           sync.RWMutex
	nextID       int64
	observations []Observation
	baselines    map[memoryBaselineKey]Baseline
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{baselines: make(map[memoryBaselineKey]Baseline)}
}

// AppendObservation stores a copy of obs.
func (m *Memory) AppendObservation(_ context.Context, obs Observation) (int64, error) {
	if err := obs.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	obs.ID = m.nextID
	obs.ObservedAt = obs.ObservedAt.UTC()
	m.observations = append(m.observations, obs)
	return obs.ID, nil
}

// ListObservationsForDay lists observations stamped within the UTC day.
func (m *Memory) ListObservationsForDay(_ context.Context, day time.Time) ([]Observation, error) {
	from := DateOf(day)
	to := from.AddDate(0, 0, 1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Observation, 0)
	for _, obs := range m.observations {
		if !obs.ObservedAt.Before(from) && obs.ObservedAt.Before(to) {
			out = append(out, obs)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// ListRecentObservations lists the newest observations first.
func (m *Memory) ListRecentObservations(_ context.Context, limit int) ([]Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = max(limit, 0)
	out := make([]Observation, 0, limit)
	for i := len(m.observations) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.observations[i])
	}
	return out, nil
}

// SaveBaselines upserts rows keyed by day and grouping key.
func (m *Memory) SaveBaselines(_ context.Context, day time.Time, rows []Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	aggDate := DateOf(day)
	for _, row := range rows {
		row.AggregationDate = aggDate
		m.baselines[memoryBaselineKey{day: aggDate, key: row.Key()}] = row
	}
	return nil
}

// HasBaselines reports whether any baseline exists for the day.
func (m *Memory) HasBaselines(_ context.Context, day time.Time) (bool, error) {
	aggDate := DateOf(day)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for k := range m.baselines {
		if k.day.Equal(aggDate) {
			return true, nil
		}
	}
	return false, nil
}

// HistoryStats sums matching baseline prices inside [q.From, q.To].
func (m *Memory) HistoryStats(_ context.Context, q HistoryQuery) (HistoryStats, error) {
	from, to := DateOf(q.From), DateOf(q.To)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats HistoryStats
	for k, b := range m.baselines {
		if k.day.Before(from) || k.day.After(to) {
			continue
		}
		if b.Origin != q.Origin || b.Destination != q.Destination || b.OneWay != q.OneWay {
			continue
		}
		if !sameDays(b.DaysBetween, q.DaysBetween) {
			continue
		}
		stats.Sum += b.MinPrice
		stats.Count++
	}
	return stats, nil
}

// ListBaselines lists baselines matching the filter, newest day first.
func (m *Memory) ListBaselines(_ context.Context, filter BaselineFilter) ([]Baseline, error) {
	from, to := DateOf(filter.From), DateOf(filter.To)

	m.mu.RLock()
	out := make([]Baseline, 0)
	for k, b := range m.baselines {
		if k.day.Before(from) || k.day.After(to) {
			continue
		}
		if filter.Origin != "" && b.Origin != filter.Origin {
			continue
		}
		if filter.Destination != "" && b.Destination != filter.Destination {
			continue
		}
		out = append(out, b)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].AggregationDate.Equal(out[j].AggregationDate) {
			return out[i].AggregationDate.After(out[j].AggregationDate)
		}
		if out[i].Origin != out[j].Origin {
			return out[i].Origin < out[j].Origin
		}
		if out[i].Destination != out[j].Destination {
			return out[i].Destination < out[j].Destination
		}
		return out[i].DepartureDate.Before(out[j].DepartureDate)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sameDays(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var (
	_ ObservationStore = (*Memory)(nil)
	_ BaselineStore    = (*Memory)(nil)
)
