// Package coinapi reads trade and quote history from a CoinAPI-style REST API.
package coinapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"tickbars/internal/model"
)

const (
	DefaultBaseURL = "https://rest.coinapi.io"

	// Max elements per history request.
	maxLimit = 100000

	defaultMaxRetries = 3
	defaultRetryDelay = 15 * time.Second

	apiKeyHeader = "X-CoinAPI-Key"
	timeLayout   = "2006-01-02T15:04:05.0000000Z"
)

// Config configures a Client. Zero values get defaults.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	MaxRetries        int
	RetryDelay        time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// StatusError is a non-retryable HTTP error.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API status %d: %s", e.Code, e.Body)
}

// Client issues history requests. It is safe for concurrent use; all callers
// share one rate limiter.
type Client struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewClient returns a Client. APIKey is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("coinapi: API key not set")
	}
	c := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		client:     cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.client == nil {
		c.client = newHTTPClient()
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c, nil
}

// Trades returns up to limit trades of symbolID with time_exchange >= start,
// oldest first.
func (c *Client) Trades(ctx context.Context, symbolID string, start time.Time, limit int) ([]model.Event, error) {
	var raw []TradeRaw
	if err := c.history(ctx, "trades", symbolID, start, limit, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.ToEvent())
	}
	return out, nil
}

// Quotes returns up to limit quotes of symbolID with time_exchange >= start,
// oldest first.
func (c *Client) Quotes(ctx context.Context, symbolID string, start time.Time, limit int) ([]model.Event, error) {
	var raw []QuoteRaw
	if err := c.history(ctx, "quotes", symbolID, start, limit, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.ToEvent())
	}
	return out, nil
}

func (c *Client) buildHistoryRequest(ctx context.Context, path, symbolID string, start time.Time, limit int) (*http.Request, error) {
	u, err := url.Parse(fmt.Sprintf("%s/v1/%s/%s/history", c.baseURL, path, url.PathEscape(symbolID)))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("time_start", start.UTC().Format(timeLayout))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// history runs one GET with retries on transport errors, 429, 5xx and
// undecodable bodies. Other statuses fail at once with a *StatusError.
func (c *Client) history(ctx context.Context, path, symbolID string, start time.Time, limit int, out any) error {
	if limit <= 0 || limit > maxLimit {
		return fmt.Errorf("limit %d out of range (1..%d)", limit, maxLimit)
	}
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			c.log.Warn("coinapi retry", "path", path, "symbol", symbolID, "attempt", attempt, "error", lastErr)
			if err := sleepCtx(ctx, c.retryDelay); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := c.buildHistoryRequest(ctx, path, symbolID, start, limit)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("API call failed: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				lastErr = fmt.Errorf("API status %d: %s", resp.StatusCode, errorMessage(body))
				continue
			}
			return &StatusError{Code: resp.StatusCode, Body: errorMessage(body)}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("parse JSON: %w", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("%s %s after %d attempts: %w", path, symbolID, c.maxRetries, lastErr)
}

func errorMessage(body []byte) string {
	var e APIError
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return string(body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
