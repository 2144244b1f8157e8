//go:build container
// +build container

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"flightwatch/internal/config"
)

func startPostgres(t *testing.T, ctx context.Context) *Store {
	t.Helper()

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "flightwatch",
				"POSTGRES_PASSWORD": "flightwatch",
				"POSTGRES_DB":       "flightwatch",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	pool, err := NewPool(ctx, config.DatabaseConfig{
		DSN:             fmt.Sprintf("postgres://flightwatch:flightwatch@%s:%s/flightwatch?sslmode=disable", host, port.Port()),
		MaxOpenConns:    8,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := Migrate(ctx, pool, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := NewStore(pool)
	t.Cleanup(store.Close)
	return store
}

func TestStoreAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := startPostgres(t, ctx)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("append and list by day", func(t *testing.T) {
		oneWay := Observation{
			ObservedAt:    day.Add(3 * time.Hour),
			Origin:        "MOW",
			Destination:   "LED",
			DepartureDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
			OneWay:        true,
			Price:         1500,
		}
		if _, err := store.AppendObservation(ctx, oneWay); err != nil {
			t.Fatalf("append one-way: %v", err)
		}
		if _, err := store.AppendObservation(ctx, roundTripObservation(day.Add(4*time.Hour), 3000, 7)); err != nil {
			t.Fatalf("append round-trip: %v", err)
		}
		if _, err := store.AppendObservation(ctx, roundTripObservation(day.AddDate(0, 0, 1), 10, 7)); err != nil {
			t.Fatalf("append next day: %v", err)
		}

		observations, err := store.ListObservationsForDay(ctx, day)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(observations) != 2 {
			t.Fatalf("expected 2 observations on day, got %d", len(observations))
		}
		if observations[0].ReturnDate != nil || observations[0].DaysBetween != nil {
			t.Fatalf("one-way should read back without return fields: %+v", observations[0])
		}
		if observations[1].DaysBetween == nil || *observations[1].DaysBetween != 7 {
			t.Fatalf("round-trip should read back days between: %+v", observations[1])
		}
	})

	t.Run("schema rejects inconsistent shape", func(t *testing.T) {
		pool, _ := store.Pool()
		_, err := pool.Exec(ctx, `INSERT INTO flights (observed_at, origin, destination, departure_date, return_date, transfer_count, one_way, price, days_between)
            VALUES (now(), 'MOW', 'LED', '2024-05-20', '2024-05-27', 0, true, 100, 7)`)
		if err == nil {
			t.Fatal("check constraint should reject one-way rows with a return date")
		}
	})

	t.Run("baseline upsert is idempotent", func(t *testing.T) {
		oneWayKey := GroupKey{Origin: "MOW", Destination: "LED", DepartureDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), OneWay: true}
		rtKey := roundTripObservation(day, 1, 7).Key()

		rows := []Baseline{oneWayKey.Baseline(day, 1500), rtKey.Baseline(day, 3000)}
		if err := store.SaveBaselines(ctx, day, rows); err != nil {
			t.Fatalf("save: %v", err)
		}
		rows[0].MinPrice = 1400
		if err := store.SaveBaselines(ctx, day, rows); err != nil {
			t.Fatalf("resave: %v", err)
		}

		listed, err := store.ListBaselines(ctx, BaselineFilter{From: day, To: day})
		if err != nil {
			t.Fatalf("list baselines: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("upsert must not duplicate rows, got %d", len(listed))
		}

		done, err := store.HasBaselines(ctx, day)
		if err != nil || !done {
			t.Fatalf("day should be marked aggregated: %v", err)
		}

		stats, err := store.HistoryStats(ctx, HistoryQuery{Origin: "MOW", Destination: "LED", OneWay: true, From: day, To: day})
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Count != 1 || stats.Sum != 1400 {
			t.Fatalf("one-way stats should see the upserted price: %+v", stats)
		}

		seven := 7
		stats, err = store.HistoryStats(ctx, HistoryQuery{Origin: "MOW", Destination: "LED", DaysBetween: &seven, From: day, To: day})
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Count != 1 || stats.Sum != 3000 {
			t.Fatalf("round-trip stats wrong: %+v", stats)
		}
	})

	t.Run("negative recent limit lists nothing", func(t *testing.T) {
		observations, err := store.ListRecentObservations(ctx, -3)
		if err != nil {
			t.Fatalf("list recent: %v", err)
		}
		if len(observations) != 0 {
			t.Fatalf("expected no rows, got %d", len(observations))
		}
	})

	t.Run("concurrent appends use separate connections", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				obs := roundTripObservation(day.AddDate(0, 0, 2).Add(time.Duration(i)*time.Minute), int64(100+i), 14)
				if _, err := store.AppendObservation(ctx, obs); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent append: %v", err)
		}

		observations, err := store.ListObservationsForDay(ctx, day.AddDate(0, 0, 2))
		if err != nil || len(observations) != 20 {
			t.Fatalf("expected 20 observations, got %d (%v)", len(observations), err)
		}
	})
}
