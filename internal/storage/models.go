package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and display layout for calendar dates.
const DateLayout = "2006-01-02"

// ErrInvalidObservation marks an observation whose shape breaks the
// one-way/round-trip invariant.
var ErrInvalidObservation = errors.New("storage: invalid observation")

// Observation is one raw price quote as it was fetched.
type Observation struct {
	ID            int64
	ObservedAt    time.Time
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
	TransferCount int
	OneWay        bool
	Price         int64
	DaysBetween   *int
}

// Baseline is the daily minimum price of one grouping key.
type Baseline struct {
	AggregationDate time.Time
	Origin          string
	Destination     string
	DepartureDate   time.Time
	ReturnDate      *time.Time
	OneWay          bool
	DaysBetween     *int
	MinPrice        int64
}

// GroupKey identifies the comparison class of observations and baselines.
// Dates are UTC midnights; ReturnDate and DaysBetween are zero for one-way keys.
type GroupKey struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    time.Time
	OneWay        bool
	DaysBetween   int
}

// HistoryQuery selects the baselines an observation is compared against.
type HistoryQuery struct {
	Origin      string
	Destination string
	OneWay      bool
	DaysBetween *int
	From        time.Time
	To          time.Time
}

// HistoryStats carries the exact sum and count of matching baseline prices.
type HistoryStats struct {
	Sum   int64
	Count int64
}

// Empty reports whether no baseline matched.
func (h HistoryStats) Empty() bool {
	return h.Count == 0
}

// Average returns Sum/Count. Callers must check Empty first.
func (h HistoryStats) Average() decimal.Decimal {
	if h.Count == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(h.Sum).Div(decimal.NewFromInt(h.Count))
}

// BaselineFilter narrows baseline listings.
type BaselineFilter struct {
	Origin      string
	Destination string
	From        time.Time
	To          time.Time
	Limit       int
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date as a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DaysBetween returns the whole-day difference to - from.
func DaysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}

// Validate checks the one-way/round-trip invariant and basic field sanity.
func (o Observation) Validate() error {
	switch {
	case o.Origin == "" || o.Destination == "":
		return fmt.Errorf("%w: empty route", ErrInvalidObservation)
	case o.Price <= 0:
		return fmt.Errorf("%w: non-positive price %d", ErrInvalidObservation, o.Price)
	case o.TransferCount < 0:
		return fmt.Errorf("%w: negative transfer count %d", ErrInvalidObservation, o.TransferCount)
	}

	if o.OneWay {
		if o.ReturnDate != nil || o.DaysBetween != nil {
			return fmt.Errorf("%w: one-way observation carries a return date", ErrInvalidObservation)
		}
		return nil
	}

	if o.ReturnDate == nil || o.DaysBetween == nil {
		return fmt.Errorf("%w: round-trip observation without return date", ErrInvalidObservation)
	}
	if *o.DaysBetween < 0 {
		return fmt.Errorf("%w: negative days between %d", ErrInvalidObservation, *o.DaysBetween)
	}
	if want := DaysBetween(o.DepartureDate, *o.ReturnDate); want != *o.DaysBetween {
		return fmt.Errorf("%w: days between %d does not match dates (%d)", ErrInvalidObservation, *o.DaysBetween, want)
	}
	return nil
}

// Key returns the observation's grouping key.
func (o Observation) Key() GroupKey {
	key := GroupKey{
		Origin:        o.Origin,
		Destination:   o.Destination,
		DepartureDate: DateOf(o.DepartureDate),
		OneWay:        o.OneWay,
	}
	if o.ReturnDate != nil {
		key.ReturnDate = DateOf(*o.ReturnDate)
	}
	if o.DaysBetween != nil {
		key.DaysBetween = *o.DaysBetween
	}
	return key
}

// Key returns the baseline's grouping key.
func (b Baseline) Key() GroupKey {
	key := GroupKey{
		Origin:        b.Origin,
		Destination:   b.Destination,
		DepartureDate: DateOf(b.DepartureDate),
		OneWay:        b.OneWay,
	}
	if b.ReturnDate != nil {
		key.ReturnDate = DateOf(*b.ReturnDate)
	}
	if b.DaysBetween != nil {
		key.DaysBetween = *b.DaysBetween
	}
	return key
}

// Baseline materialises a baseline row for key on day.
func (k GroupKey) Baseline(day time.Time, minPrice int64) Baseline {
	b := Baseline{
		AggregationDate: DateOf(day),
		Origin:          k.Origin,
		Destination:     k.Destination,
		DepartureDate:   k.DepartureDate,
		OneWay:          k.OneWay,
		MinPrice:        minPrice,
	}
	if !k.OneWay {
		ret := k.ReturnDate
		days := k.DaysBetween
		b.ReturnDate = &ret
		b.DaysBetween = &days
	}
	return b
}

// String renders the key for logs.
func (k GroupKey) String() string {
	if k.OneWay {
		return fmt.Sprintf("%s-%s %s one-way", k.Origin, k.Destination, k.DepartureDate.Format(DateLayout))
	}
	return fmt.Sprintf("%s-%s %s..%s (%dd)", k.Origin, k.Destination,
		k.DepartureDate.Format(DateLayout), k.ReturnDate.Format(DateLayout), k.DaysBetween)
}
