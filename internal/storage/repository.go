package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertObservationSQL = `INSERT INTO flights (
        observed_at,
        origin,
        destination,
        departure_date,
        return_date,
        transfer_count,
        one_way,
        price,
        days_between
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id;`

	listObservationsBetweenSQL = `SELECT
        id,
        observed_at,
        origin,
        destination,
        departure_date,
        return_date,
        transfer_count,
        one_way,
        price,
        days_between
    FROM flights
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at;`

	listRecentObservationsSQL = `SELECT
        id,
        observed_at,
        origin,
        destination,
        departure_date,
        return_date,
        transfer_count,
        one_way,
        price,
        days_between
    FROM flights
    ORDER BY observed_at DESC
    LIMIT $1;`

	upsertBaselineSQL = `INSERT INTO flight_days (
        aggregation_date,
        origin,
        destination,
        departure_date,
        return_date,
        one_way,
        days_between,
        min_price
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (
        aggregation_date,
        origin,
        destination,
        departure_date,
        COALESCE(return_date, '-infinity'::date),
        one_way,
        COALESCE(days_between, -1)
    ) DO UPDATE
    SET min_price = EXCLUDED.min_price;`

	hasBaselinesSQL = `SELECT EXISTS (SELECT 1 FROM flight_days WHERE aggregation_date = $1);`

	historyStatsSQL = `SELECT
        COALESCE(SUM(min_price), 0)::bigint,
        COUNT(*)
    FROM flight_days
    WHERE origin = $1
      AND destination = $2
      AND one_way = $3
      AND days_between IS NOT DISTINCT FROM $4::integer
      AND aggregation_date >= $5
      AND aggregation_date <= $6;`

	listBaselinesSQL = `SELECT
        aggregation_date,
        origin,
        destination,
        departure_date,
        return_date,
        one_way,
        days_between,
        min_price
    FROM flight_days
    WHERE ($1::text = '' OR origin = $1::text)
      AND ($2::text = '' OR destination = $2::text)
      AND aggregation_date >= $3
      AND aggregation_date <= $4
    ORDER BY aggregation_date DESC, origin, destination, departure_date
    LIMIT $5;`
)

// ObservationStore defines append-only persistence of raw quotes.
type ObservationStore interface {
	AppendObservation(ctx context.Context, obs Observation) (int64, error)
	ListObservationsForDay(ctx context.Context, day time.Time) ([]Observation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]Observation, error)
}

// BaselineStore defines persistence of daily aggregates.
type BaselineStore interface {
	SaveBaselines(ctx context.Context, day time.Time, rows []Baseline) error
	HasBaselines(ctx context.Context, day time.Time) (bool, error)
	HistoryStats(ctx context.Context, q HistoryQuery) (HistoryStats, error)
	ListBaselines(ctx context.Context, filter BaselineFilter) ([]Baseline, error)
}

// Store implements both stores on a PostgreSQL pool. Every call checks out
// its own connection, so concurrent cycles never share a session.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Pool exposes the pool for migrations.
func (s *Store) Pool() (*pgxpool.Pool, error) {
	return s.getPool()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendObservation inserts one observation in its own implicit transaction.
func (s *Store) AppendObservation(ctx context.Context, obs Observation) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if err := obs.Validate(); err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertObservationSQL,
		obs.ObservedAt.UTC(),
		obs.Origin,
		obs.Destination,
		DateOf(obs.DepartureDate),
		nullableDate(obs.ReturnDate),
		obs.TransferCount,
		obs.OneWay,
		obs.Price,
		nullableInt(obs.DaysBetween),
	).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert observation: %w", scanErr)
	}
	return id, nil
}

// ListObservationsForDay lists observations stamped within the UTC day.
func (s *Store) ListObservationsForDay(ctx context.Context, day time.Time) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	from := DateOf(day)
	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, from, from.AddDate(0, 0, 1))
	if queryErr != nil {
		return nil, fmt.Errorf("list observations for day: %w", queryErr)
	}
	return collectObservations(rows, 0)
}

// ListRecentObservations lists the newest observations first.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]Observation, error) {
	limit = max(limit, 0)
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	return collectObservations(rows, limit)
}

// SaveBaselines upserts all of a day's rows in a single transaction.
func (s *Store) SaveBaselines(ctx context.Context, day time.Time, rows []Baseline) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	aggDate := DateOf(day)
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range rows {
			if !DateOf(row.AggregationDate).Equal(aggDate) {
				return fmt.Errorf("baseline for %s queued under day %s", row.AggregationDate.Format(DateLayout), aggDate.Format(DateLayout))
			}
			batch.Queue(upsertBaselineSQL,
				aggDate,
				row.Origin,
				row.Destination,
				DateOf(row.DepartureDate),
				nullableDate(row.ReturnDate),
				row.OneWay,
				nullableInt(row.DaysBetween),
				row.MinPrice,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range rows {
			if _, execErr := results.Exec(); execErr != nil {
				results.Close()
				return fmt.Errorf("upsert baseline: %w", execErr)
			}
		}
		return results.Close()
	})
}

// HasBaselines reports whether any baseline exists for the day.
func (s *Store) HasBaselines(ctx context.Context, day time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasBaselinesSQL, DateOf(day)).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("check baselines: %w", scanErr)
	}
	return exists, nil
}

// HistoryStats sums matching baseline prices inside [q.From, q.To].
func (s *Store) HistoryStats(ctx context.Context, q HistoryQuery) (HistoryStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return HistoryStats{}, err
	}

	var stats HistoryStats
	scanErr := pool.QueryRow(ctx, historyStatsSQL,
		q.Origin,
		q.Destination,
		q.OneWay,
		nullableInt(q.DaysBetween),
		DateOf(q.From),
		DateOf(q.To),
	).Scan(&stats.Sum, &stats.Count)
	if scanErr != nil {
		return HistoryStats{}, fmt.Errorf("history stats: %w", scanErr)
	}
	return stats, nil
}

// ListBaselines lists baselines matching the filter, newest day first.
func (s *Store) ListBaselines(ctx context.Context, filter BaselineFilter) ([]Baseline, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listBaselinesSQL,
		filter.Origin,
		filter.Destination,
		DateOf(filter.From),
		DateOf(filter.To),
		limitOrAll(filter.Limit),
	)
	if queryErr != nil {
		return nil, fmt.Errorf("list baselines: %w", queryErr)
	}
	defer rows.Close()

	baselines := make([]Baseline, 0)
	for rows.Next() {
		var (
			b       Baseline
			aggDate pgtype.Date
			depDate pgtype.Date
			retDate pgtype.Date
			days    sql.NullInt64
		)
		if err := rows.Scan(
			&aggDate,
			&b.Origin,
			&b.Destination,
			&depDate,
			&retDate,
			&b.OneWay,
			&days,
			&b.MinPrice,
		); err != nil {
			return nil, err
		}
		b.AggregationDate = DateOf(aggDate.Time)
		b.DepartureDate = DateOf(depDate.Time)
		b.ReturnDate = dateFromPG(retDate)
		b.DaysBetween = intFromNull(days)
		baselines = append(baselines, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return baselines, nil
}

func collectObservations(rows pgx.Rows, capacity int) ([]Observation, error) {
	defer rows.Close()

	observations := make([]Observation, 0, max(capacity, 0))
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (Observation, error) {
	var (
		obs     Observation
		depDate pgtype.Date
		retDate pgtype.Date
		days    sql.NullInt64
	)

	if err := rows.Scan(
		&obs.ID,
		&obs.ObservedAt,
		&obs.Origin,
		&obs.Destination,
		&depDate,
		&retDate,
		&obs.TransferCount,
		&obs.OneWay,
		&obs.Price,
		&days,
	); err != nil {
		return Observation{}, err
	}

	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.DepartureDate = DateOf(depDate.Time)
	obs.ReturnDate = dateFromPG(retDate)
	obs.DaysBetween = intFromNull(days)
	return obs, nil
}

func nullableDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return DateOf(*t)
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return int32(*v)
}

func limitOrAll(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

func dateFromPG(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := DateOf(d.Time)
	return &t
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

var (
	_ ObservationStore = (*Store)(nil)
	_ BaselineStore    = (*Store)(nil)
)
