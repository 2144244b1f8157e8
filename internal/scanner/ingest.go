package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flightwatch/internal/fetcher"
	"flightwatch/internal/storage"
)

var (
	// ErrMalformedQuote marks a quote the source sent in an unusable shape.
	// It is skipped; sibling quotes proceed.
	ErrMalformedQuote = errors.New("malformed quote")
	// ErrInvariant marks a quote that contradicts the query it answered.
	ErrInvariant = errors.New("observation invariant violated")
)

var quoteDateLayouts = []string{
	storage.DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Ingest validates one quote, turns it into an Observation stamped now and
// appends it to the observation store.
func (s *Scanner) Ingest(ctx context.Context, quote fetcher.Quote, q fetcher.Query) (storage.Observation, error) {
	obs, err := s.buildObservation(quote, q)
	if err != nil {
		return storage.Observation{}, err
	}

	id, err := s.observations.AppendObservation(ctx, obs)
	if err != nil {
		return storage.Observation{}, fmt.Errorf("append observation %s: %w", q, err)
	}
	obs.ID = id
	return obs, nil
}

func (s *Scanner) buildObservation(quote fetcher.Quote, q fetcher.Query) (storage.Observation, error) {
	if quote.DecodeErr != nil {
		return storage.Observation{}, fmt.Errorf("%w: %v", ErrMalformedQuote, quote.DecodeErr)
	}

	price, err := parsePrice(quote)
	if err != nil {
		return storage.Observation{}, err
	}
	if quote.Transfers == nil {
		return storage.Observation{}, fmt.Errorf("%w: transfers missing", ErrMalformedQuote)
	}
	if *quote.Transfers < 0 {
		return storage.Observation{}, fmt.Errorf("%w: negative transfers %d", ErrMalformedQuote, *quote.Transfers)
	}

	departure, err := parseQuoteDate(quote.DepartureAt)
	if err != nil {
		return storage.Observation{}, fmt.Errorf("%w: departure_at: %v", ErrMalformedQuote, err)
	}

	obs := storage.Observation{
		ObservedAt:    s.now().UTC(),
		Origin:        q.Origin,
		Destination:   q.Destination,
		DepartureDate: departure,
		TransferCount: *quote.Transfers,
		OneWay:        q.OneWay(),
		Price:         price,
	}

	if q.OneWay() {
		if strings.TrimSpace(quote.ReturnAt) != "" {
			return storage.Observation{}, fmt.Errorf("%w: return_at %q on one-way query %s", ErrInvariant, quote.ReturnAt, q)
		}
	} else {
		if strings.TrimSpace(quote.ReturnAt) == "" {
			return storage.Observation{}, fmt.Errorf("%w: return_at missing on round-trip query", ErrMalformedQuote)
		}
		ret, err := parseQuoteDate(quote.ReturnAt)
		if err != nil {
			return storage.Observation{}, fmt.Errorf("%w: return_at: %v", ErrMalformedQuote, err)
		}
		days := storage.DaysBetween(departure, ret)
		if days < 0 {
			return storage.Observation{}, fmt.Errorf("%w: return %s before departure %s", ErrMalformedQuote,
				ret.Format(storage.DateLayout), departure.Format(storage.DateLayout))
		}
		obs.ReturnDate = &ret
		obs.DaysBetween = &days
	}

	if err := obs.Validate(); err != nil {
		return storage.Observation{}, fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	return obs, nil
}

func parsePrice(quote fetcher.Quote) (int64, error) {
	raw := strings.TrimSpace(quote.Price.String())
	if raw == "" {
		return 0, fmt.Errorf("%w: price missing", ErrMalformedQuote)
	}
	price, err := quote.Price.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: price %q is not an integer", ErrMalformedQuote, raw)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %d", ErrMalformedQuote, price)
	}
	return price, nil
}

// parseQuoteDate accepts the date forms the source emits and keeps the local
// calendar date of timestamped values.
func parseQuoteDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range quoteDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}
