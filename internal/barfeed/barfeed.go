// FILE: internal/barfeed/barfeed.go
// Package barfeed – bar-data HTTP client (external collaborator, §6).
//
// Out of scope per spec.md §1 ("the bar-data HTTP client ... treated as a
// black box"); this file defines only the interface the engine depends on
// plus a retryable HTTP implementation skeleton, since the concrete wire
// format of the upstream provider is not part of this core.
package barfeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Timeframe identifies the bar aggregation window.
type Timeframe string

const Timeframe15m Timeframe = "15m"

// Bar is a single OHLCV candle.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Client fetches historical bars for an instrument. Pagination is handled
// internally by the implementation; Retry-After on HTTP 429 is respected.
type Client interface {
	FetchBars(ctx context.Context, instrument string, start, end time.Time, tf Timeframe) ([]Bar, error)
}

// HTTPClient is a retryablehttp-backed Client. The concrete request/response
// shape of the upstream bar-data provider is out of scope for this core;
// callers inject baseURL/apiKey and a decode function suited to their
// provider.
type HTTPClient struct {
	baseURL string
	apiKey  string
	decode  func([]byte) ([]Bar, error)
	http    *retryablehttp.Client
}

// NewHTTPClient builds a Client with 30s timeout and 3 retries with
// exponential backoff starting at 1s, per spec.md §5.
func NewHTTPClient(baseURL, apiKey string, decode func([]byte) ([]Bar, error)) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 4 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &HTTPClient{baseURL: baseURL, apiKey: apiKey, decode: decode, http: rc}
}

// FetchBars issues a single GET against the configured provider.
// Pagination itself is provider-specific and deliberately left to `decode`
// plus repeated calls by a concrete provider adapter; this core only
// specifies the retry/backoff/timeout discipline.
func (c *HTTPClient) FetchBars(ctx context.Context, instrument string, start, end time.Time, tf Timeframe) ([]Bar, error) {
	url := fmt.Sprintf("%s/bars/%s?start=%s&end=%s&tf=%s",
		c.baseURL, instrument, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), tf)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("barfeed: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("barfeed: fetch %s: %w", instrument, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("barfeed: %s returned status %d", instrument, resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("barfeed: read response for %s: %w", instrument, err)
	}
	return c.decode(buf)
}
