package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flightwatch/internal/alerting"
	"flightwatch/internal/storage"
)

type recordingNotifier struct {
	alerts []alerting.Alert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, alert alerting.Alert) error {
	r.alerts = append(r.alerts, alert)
	return r.err
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func roundTrip(price int64) storage.Observation {
	dep := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	ret := dep.AddDate(0, 0, 7)
	days := 7
	return storage.Observation{
		ObservedAt:    testNow,
		Origin:        "MOW",
		Destination:   "LED",
		DepartureDate: dep,
		ReturnDate:    &ret,
		OneWay:        false,
		DaysBetween:   &days,
		Price:         price,
	}
}

// seedHistory writes 30 prior daily baselines averaging 2000 for the
// round-trip group used by roundTrip.
func seedHistory(t *testing.T, store *storage.Memory) {
	t.Helper()
	key := roundTrip(1).Key()
	for i := 1; i <= 30; i++ {
		day := storage.DateOf(testNow).AddDate(0, 0, -i)
		price := int64(1500)
		if i%2 == 0 {
			price = 2500
		}
		if err := store.SaveBaselines(context.Background(), day, []storage.Baseline{key.Baseline(day, price)}); err != nil {
			t.Fatalf("seed baseline: %v", err)
		}
	}
}

func newTestMonitor(t *testing.T, store storage.BaselineStore, notifier alerting.Notifier, cooldown time.Duration) *Monitor {
	t.Helper()
	m, err := New(store, notifier, Options{
		HistoryDays: 30,
		Threshold:   decimal.NewFromFloat(0.5),
		Cooldown:    cooldown,
		Currency:    "RUB",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	m.now = func() time.Time { return testNow }
	return m
}

func TestCheckAlertsBelowHalfAverage(t *testing.T) {
	store := storage.NewMemory()
	seedHistory(t, store)
	notifier := &recordingNotifier{}
	m := newTestMonitor(t, store, notifier, 0)

	decision, err := m.Check(context.Background(), roundTrip(900))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !decision.Evaluated || !decision.Alerted {
		t.Fatalf("price 900 against avg 2000 should alert: %+v", decision)
	}
	if decision.Samples != 30 {
		t.Fatalf("expected 30 samples, got %d", decision.Samples)
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.alerts))
	}

	alert := notifier.alerts[0]
	if !alert.Average.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("average should be 2000, got %s", alert.Average)
	}
	if !alert.Savings.Equal(decimal.NewFromInt(1100)) {
		t.Fatalf("savings should be 1100, got %s", alert.Savings)
	}
	if !alert.SavingsPct.Equal(decimal.NewFromInt(55)) {
		t.Fatalf("savings pct should be 55, got %s", alert.SavingsPct)
	}
	if alert.DaysBetween == nil || *alert.DaysBetween != 7 || alert.OneWay {
		t.Fatalf("alert should describe the round-trip shape: %+v", alert)
	}
}

func TestCheckBoundaryDoesNotAlert(t *testing.T) {
	store := storage.NewMemory()
	seedHistory(t, store)
	notifier := &recordingNotifier{}
	m := newTestMonitor(t, store, notifier, 0)

	decision, err := m.Check(context.Background(), roundTrip(1000))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !decision.Evaluated {
		t.Fatal("history exists, decision should be evaluated")
	}
	if decision.Alerted || len(notifier.alerts) != 0 {
		t.Fatal("price exactly avg*threshold must not alert")
	}
}

func TestCheckWithoutHistoryNeverAlerts(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestMonitor(t, storage.NewMemory(), notifier, 0)

	decision, err := m.Check(context.Background(), roundTrip(1))
	if err != nil {
		t.Fatalf("no history is not an error: %v", err)
	}
	if decision.Evaluated || decision.Alerted || len(notifier.alerts) != 0 {
		t.Fatalf("no baseline rows means no decision: %+v", decision)
	}
}

func TestCheckIgnoresOtherShapes(t *testing.T) {
	store := storage.NewMemory()
	seedHistory(t, store)
	notifier := &recordingNotifier{}
	m := newTestMonitor(t, store, notifier, 0)

	obs := roundTrip(100)
	ret := obs.DepartureDate.AddDate(0, 0, 14)
	days := 14
	obs.ReturnDate = &ret
	obs.DaysBetween = &days

	decision, err := m.Check(context.Background(), obs)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Evaluated {
		t.Fatal("14-day trips must not be compared with 7-day baselines")
	}

	oneWay := roundTrip(100)
	oneWay.OneWay = true
	oneWay.ReturnDate = nil
	oneWay.DaysBetween = nil
	if decision, _ := m.Check(context.Background(), oneWay); decision.Evaluated {
		t.Fatal("one-way fares must not be compared with round-trip baselines")
	}
}

func TestCheckExcludesBaselinesOutsideWindow(t *testing.T) {
	store := storage.NewMemory()
	key := roundTrip(1).Key()
	old := storage.DateOf(testNow).AddDate(0, 0, -31)
	if err := store.SaveBaselines(context.Background(), old, []storage.Baseline{key.Baseline(old, 5000)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := newTestMonitor(t, store, &recordingNotifier{}, 0)
	decision, err := m.Check(context.Background(), roundTrip(100))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Evaluated {
		t.Fatal("baselines older than the history window must be ignored")
	}
}

func TestCheckCooldownSuppressesRepeats(t *testing.T) {
	store := storage.NewMemory()
	seedHistory(t, store)
	notifier := &recordingNotifier{}
	m := newTestMonitor(t, store, notifier, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := m.Check(context.Background(), roundTrip(900)); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("cooldown should allow one alert, got %d", len(notifier.alerts))
	}

	decision, _ := m.Check(context.Background(), roundTrip(800))
	if decision.Suppressed || len(notifier.alerts) != 2 {
		t.Fatal("a different price is a new alert")
	}

	m.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	if _, err := m.Check(context.Background(), roundTrip(900)); err != nil {
		t.Fatalf("check after cooldown: %v", err)
	}
	if len(notifier.alerts) != 3 {
		t.Fatalf("alert should fire again after cooldown, got %d", len(notifier.alerts))
	}
}

func TestCheckReturnsNotifierError(t *testing.T) {
	store := storage.NewMemory()
	seedHistory(t, store)
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	m := newTestMonitor(t, store, notifier, time.Hour)

	decision, err := m.Check(context.Background(), roundTrip(900))
	if err == nil {
		t.Fatal("notifier failure should be returned")
	}
	if !decision.Alerted {
		t.Fatal("decision should still report the anomaly")
	}

	notifier.err = nil
	if _, err := m.Check(context.Background(), roundTrip(900)); err != nil {
		t.Fatalf("retry after failed delivery: %v", err)
	}
	if len(notifier.alerts) != 2 {
		t.Fatal("failed delivery must not start the cooldown")
	}
}

func TestIsAnomalyExactArithmetic(t *testing.T) {
	threshold := decimal.RequireFromString("0.3")
	cases := []struct {
		name  string
		price int64
		stats storage.HistoryStats
		want  bool
	}{
		{"empty", 1, storage.HistoryStats{}, false},
		{"equal to third of 1000", 100, storage.HistoryStats{Sum: 1000, Count: 3}, false},
		{"just below", 99, storage.HistoryStats{Sum: 1000, Count: 3}, true},
		{"above", 101, storage.HistoryStats{Sum: 1000, Count: 3}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsAnomaly(tc.price, tc.stats, threshold); got != tc.want {
				t.Fatalf("IsAnomaly(%d, %+v) = %v, want %v", tc.price, tc.stats, got, tc.want)
			}
		})
	}
}

func TestNewRejectsBadThreshold(t *testing.T) {
	for _, th := range []string{"0", "1", "1.5", "-0.1"} {
		if _, err := New(storage.NewMemory(), nil, Options{HistoryDays: 30, Threshold: decimal.RequireFromString(th)}, zerolog.Nop()); err == nil {
			t.Fatalf("threshold %s should be rejected", th)
		}
	}
}
