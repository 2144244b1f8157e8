package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.travelpayouts.com/aviasales/v3/prices_for_dates"

// Options parameterise the fare API client.
type Options struct {
	BaseURL      string
	Token        string
	Currency     string
	Timeout      time.Duration
	UserAgent    string
	MaxRetries   int
	RetryMinWait time.Duration
	RetryMaxWait time.Duration
}

// Client fetches fares from an Aviasales-style prices_for_dates endpoint.
type Client struct {
	opts    Options
	limiter Limiter
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a fare client. Every HTTP attempt, retries included,
// takes a slot from limiter.
func NewClient(opts Options, limiter Limiter, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.RetryMinWait <= 0 {
		opts.RetryMinWait = 500 * time.Millisecond
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		opts:    opts,
		limiter: limiter,
		logger:  logger.With().Str("component", "price_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchQuotes queries the source, retrying transient failures with backoff.
func (c *Client) FetchQuotes(ctx context.Context, q Query) ([]Quote, error) {
	if q.Origin == "" || q.Destination == "" {
		return nil, errors.New("origin and destination required")
	}

	var quotes []Quote
	operation := func() error {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		result, err := c.fetchOnce(ctx, q)
		if err != nil {
			if IsTransient(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		quotes = result
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.RetryMinWait
	policy.MaxInterval = c.opts.RetryMaxWait
	policy.MaxElapsedTime = 0

	retries := c.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	strategy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("query", q.String()).Dur("retry_in", wait).Msg("price source call failed; retrying")
	}

	if err := backoff.RetryNotify(operation, strategy, notify); err != nil {
		return nil, err
	}
	return quotes, nil
}

func (c *Client) fetchOnce(ctx context.Context, q Query) ([]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+c.queryParams(q).Encode(), nil)
	if err != nil {
		return nil, &SourceError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "flightwatch/1.0")
	}
	if c.opts.Token != "" {
		req.Header.Set("X-Access-Token", c.opts.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SourceError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SourceError{StatusCode: resp.StatusCode, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var envelope pricesResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, &SourceError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "success=false"
		}
		return nil, &SourceError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	quotes := make([]Quote, 0, len(envelope.Data))
	for _, raw := range envelope.Data {
		var quote Quote
		if err := json.Unmarshal(raw, &quote); err != nil {
			quote = Quote{DecodeErr: err}
		}
		quote.Raw = raw
		quotes = append(quotes, quote)
	}

	c.logger.Debug().Str("query", q.String()).Int("quotes", len(quotes)).Msg("fetched quotes")
	return quotes, nil
}

func (c *Client) queryParams(q Query) url.Values {
	params := url.Values{}
	params.Set("origin", q.Origin)
	params.Set("destination", q.Destination)
	params.Set("departure_at", q.DepartureDate.Format("2006-01-02"))
	if q.ReturnDate != nil {
		params.Set("return_at", q.ReturnDate.Format("2006-01-02"))
		params.Set("one_way", "false")
	} else {
		params.Set("one_way", "true")
	}
	if c.opts.Currency != "" {
		params.Set("currency", c.opts.Currency)
	}
	params.Set("sorting", "price")
	if c.opts.Token != "" {
		params.Set("token", c.opts.Token)
	}
	return params
}

type pricesResponse struct {
	Success  bool              `json:"success"`
	Data     []json.RawMessage `json:"data"`
	Currency string            `json:"currency"`
	Error    string            `json:"error"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	transient := status == http.StatusTooManyRequests || status >= 500

	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return &SourceError{StatusCode: status, Transient: transient, Err: errors.New(apiErr.Error)}
		}
		if apiErr.Message != "" {
			return &SourceError{StatusCode: status, Transient: transient, Err: errors.New(apiErr.Message)}
		}
	}
	if len(payload) > 0 {
		return &SourceError{StatusCode: status, Transient: transient, Err: errors.New(strings.TrimSpace(string(payload)))}
	}
	return &SourceError{StatusCode: status, Transient: transient, Err: errors.New(http.StatusText(status))}
}

var _ QuoteFetcher = (*Client)(nil)
