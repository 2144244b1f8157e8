package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

func testQuery() Query {
	return Query{Origin: "MOW", Destination: "LED", DepartureDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func testClient(baseURL string, retries int, limiter Limiter) *Client {
	return NewClient(Options{
		BaseURL:      baseURL,
		Token:        "secret",
		Currency:     "rub",
		Timeout:      time.Second,
		UserAgent:    "test",
		MaxRetries:   retries,
		RetryMinWait: time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	}, limiter, noopLogger())
}

func TestFetchQuotesSuccess(t *testing.T) {
	var params map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params = map[string]string{}
		for k := range r.URL.Query() {
			params[k] = r.URL.Query().Get(k)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"departure_at": "2024-05-01T10:00:00+03:00", "transfers": 0, "price": 1000},
				{"departure_at": "2024-05-01", "transfers": 1, "price": 1500},
			},
			"currency": "rub",
		})
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	quotes, err := testClient(srv.URL, 0, limiter).FetchQuotes(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("successful response should not fail: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes[0].Price.String() != "1000" || quotes[0].Transfers == nil || *quotes[0].Transfers != 0 {
		t.Fatalf("unexpected first quote: %+v", quotes[0])
	}
	if params["origin"] != "MOW" || params["destination"] != "LED" || params["departure_at"] != "2024-05-01" {
		t.Fatalf("unexpected query params: %#v", params)
	}
	if params["one_way"] != "true" {
		t.Fatalf("one-way query should send one_way=true: %#v", params)
	}
	if _, ok := params["return_at"]; ok {
		t.Fatalf("one-way query must not send return_at")
	}
	if limiter.calls.Load() != 1 {
		t.Fatalf("expected one limiter acquisition, got %d", limiter.calls.Load())
	}
}

func TestFetchQuotesRoundTripParams(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = map[string]string{
			"return_at": r.URL.Query().Get("return_at"),
			"one_way":   r.URL.Query().Get("one_way"),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": []any{}})
	}))
	defer srv.Close()

	q := testQuery()
	ret := q.DepartureDate.AddDate(0, 0, 7)
	q.ReturnDate = &ret

	quotes, err := testClient(srv.URL, 0, nil).FetchQuotes(context.Background(), q)
	if err != nil {
		t.Fatalf("empty data is a success: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("expected no quotes, got %d", len(quotes))
	}
	if got["return_at"] != "2024-05-08" || got["one_way"] != "false" {
		t.Fatalf("unexpected round-trip params: %#v", got)
	}
}

func TestFetchQuotesServerErrorIsTransientAndRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	quotes, err := testClient(srv.URL, 2, limiter).FetchQuotes(context.Background(), testQuery())
	if err == nil {
		t.Fatal("HTTP 500 must be reported, not turned into an empty result")
	}
	if quotes != nil {
		t.Fatalf("failed fetch should not return quotes: %+v", quotes)
	}
	if !IsTransient(err) {
		t.Fatalf("HTTP 500 should be transient: %v", err)
	}
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected SourceError with status 500, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", hits.Load())
	}
	if limiter.calls.Load() != 3 {
		t.Fatalf("each attempt must take a limiter slot, got %d", limiter.calls.Load())
	}
}

func TestFetchQuotesClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "bad token"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 3, nil).FetchQuotes(context.Background(), testQuery())
	if err == nil {
		t.Fatal("HTTP 401 should fail")
	}
	if IsTransient(err) {
		t.Fatalf("HTTP 401 should be permanent: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("permanent errors must not be retried, got %d attempts", hits.Load())
	}
}

func TestFetchQuotesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 0, nil).FetchQuotes(context.Background(), testQuery())
	if err == nil {
		t.Fatal("malformed body should fail")
	}
	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected SourceError, got %T", err)
	}
}

func TestFetchQuotesSuccessFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "unknown origin"})
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL, 0, nil).FetchQuotes(context.Background(), testQuery()); err == nil {
		t.Fatal("success=false should fail")
	}
}

func TestFetchQuotesKeepsUndecodableElements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[{"departure_at":"2024-05-01","transfers":"many","price":10},{"departure_at":"2024-05-01","transfers":0,"price":20}]}`))
	}))
	defer srv.Close()

	quotes, err := testClient(srv.URL, 0, nil).FetchQuotes(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("one bad element should not fail the batch: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes[0].DecodeErr == nil || len(quotes[0].Raw) == 0 {
		t.Fatalf("first quote should carry its decode error and raw payload")
	}
	if quotes[1].DecodeErr != nil {
		t.Fatalf("second quote should decode: %v", quotes[1].DecodeErr)
	}
}

func TestFetchQuotesNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := testClient(url, 0, nil).FetchQuotes(context.Background(), testQuery())
	if !IsTransient(err) {
		t.Fatalf("connection refused should be transient, got %v", err)
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
