// Package datasource fetches daily prices and symbol metadata from public
// market data APIs.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thruflo/cc-automator/internal/market"
)

var (
	// ErrNotFound is returned when a source has no data for a symbol.
	ErrNotFound = errors.New("symbol not found")
	// ErrRateLimited is returned when a source refuses a request because
	// the caller exceeded its quota.
	ErrRateLimited = errors.New("rate limited")
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 16 << 20

// Source is a market data provider.
type Source interface {
	Name() string
	FetchDaily(ctx context.Context, symbol string, r market.DateRange) ([]market.PriceBar, error)
	Search(ctx context.Context, query string) ([]market.SymbolInfo, error)
}

// StatusError is returned for unexpected HTTP responses.
type StatusError struct {
	Source string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Source, e.Code, e.Body)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// getJSON performs a GET and decodes a JSON body into v. 404 maps to
// ErrNotFound and 429 to ErrRateLimited.
func getJSON(ctx context.Context, client *http.Client, source, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", source, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; findata/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", source, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", source, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", source, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return &StatusError{Source: source, Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", source, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
