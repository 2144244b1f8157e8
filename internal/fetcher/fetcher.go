package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrTransient matches source failures worth retrying later: network errors,
// timeouts, throttling and 5xx responses.
var ErrTransient = errors.New("price source temporarily unavailable")

// Query is one route/date(s) combination sent to the price source.
type Query struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
}

// OneWay reports whether the query has no return leg.
func (q Query) OneWay() bool {
	return q.ReturnDate == nil
}

// String renders the query for logs.
func (q Query) String() string {
	if q.ReturnDate == nil {
		return fmt.Sprintf("%s-%s %s", q.Origin, q.Destination, q.DepartureDate.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s-%s %s..%s", q.Origin, q.Destination,
		q.DepartureDate.Format("2006-01-02"), q.ReturnDate.Format("2006-01-02"))
}

// Quote is one fare as returned by the source. Fields are kept close to the
// wire; validation happens at ingest. DecodeErr is set when the element could
// not be decoded at all.
type Quote struct {
	DepartureAt string      `json:"departure_at"`
	ReturnAt    string      `json:"return_at"`
	Transfers   *int        `json:"transfers"`
	Price       json.Number `json:"price"`
	Airline     string      `json:"airline"`
	Link        string      `json:"link"`

	Raw       json.RawMessage `json:"-"`
	DecodeErr error           `json:"-"`
}

// QuoteFetcher retrieves quotes for a single query. An empty slice with a nil
// error means the source answered and had nothing; any failure is an error.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, q Query) ([]Quote, error)
}

// Limiter paces outbound requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// SourceError describes a failed price source call.
type SourceError struct {
	StatusCode int
	Transient  bool
	Err        error
}

func (e *SourceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("price source %s error (%d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("price source %s error: %v", kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransient) classify the failure.
func (e *SourceError) Is(target error) bool {
	return target == ErrTransient && e.Transient
}

// IsTransient reports whether err is a retryable source failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
