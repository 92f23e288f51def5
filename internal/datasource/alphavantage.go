package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thruflo/cc-automator/internal/market"
	"golang.org/x/time/rate"
)

// AlphaVantageName identifies the Alpha Vantage source.
const AlphaVantageName = "alphavantage"

// DefaultAlphaVantageURL is the Alpha Vantage API host.
const DefaultAlphaVantageURL = "https://www.alphavantage.co"

// compactDays is how many trading days outputsize=compact returns.
const compactDays = 100

// ErrMissingAPIKey is returned when Alpha Vantage is used without a key.
var ErrMissingAPIKey = errors.New("alphavantage: API key is required")

// AlphaVantage reads the TIME_SERIES_DAILY and SYMBOL_SEARCH functions.
// Requests are limited to five per minute, the free-tier quota.
type AlphaVantage struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// AlphaVantageOption customizes an AlphaVantage source.
type AlphaVantageOption func(*AlphaVantage)

// WithBaseURL points the source at another host.
func WithBaseURL(u string) AlphaVantageOption {
	return func(a *AlphaVantage) { a.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) AlphaVantageOption {
	return func(a *AlphaVantage) { a.client = c }
}

// WithLimiter replaces the request rate limiter.
func WithLimiter(l *rate.Limiter) AlphaVantageOption {
	return func(a *AlphaVantage) { a.limiter = l }
}

// NewAlphaVantage creates an Alpha Vantage source.
func NewAlphaVantage(apiKey string, opts ...AlphaVantageOption) *AlphaVantage {
	a := &AlphaVantage{
		baseURL: DefaultAlphaVantageURL,
		apiKey:  apiKey,
		client:  newHTTPClient(),
		limiter: rate.NewLimiter(rate.Every(time.Minute/5), 5),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AlphaVantage) Name() string { return AlphaVantageName }

// avEnvelope carries the error fields Alpha Vantage returns with status 200.
type avEnvelope struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (e avEnvelope) err() error {
	switch {
	case e.ErrorMessage != "":
		return fmt.Errorf("%s: %s: %w", AlphaVantageName, e.ErrorMessage, ErrNotFound)
	case e.Note != "":
		return fmt.Errorf("%s: %s: %w", AlphaVantageName, e.Note, ErrRateLimited)
	case e.Information != "":
		return fmt.Errorf("%s: %s: %w", AlphaVantageName, e.Information, ErrRateLimited)
	}
	return nil
}

type avDaily struct {
	avEnvelope
	Series map[string]map[string]string `json:"Time Series (Daily)"`
}

// FetchDaily returns daily bars for symbol within r.
func (a *AlphaVantage) FetchDaily(ctx context.Context, symbol string, r market.DateRange) ([]market.PriceBar, error) {
	symbol = market.NormalizeSymbol(symbol)
	size := "compact"
	if market.Day(a.now()).Sub(market.Day(r.Start)) > compactDays*24*time.Hour {
		size = "full"
	}
	var res avDaily
	if err := a.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {size},
	}, &res); err != nil {
		return nil, err
	}
	if err := res.err(); err != nil {
		return nil, err
	}
	if len(res.Series) == 0 {
		return nil, fmt.Errorf("%s: %s: %w", AlphaVantageName, symbol, ErrNotFound)
	}

	bars := make([]market.PriceBar, 0, len(res.Series))
	for day, fields := range res.Series {
		date, err := time.Parse(market.DateLayout, day)
		if err != nil || !r.Contains(date) {
			continue
		}
		bar := market.PriceBar{
			Symbol: symbol,
			Date:   date,
			Open:   parseFloat(fields["1. open"]),
			High:   parseFloat(fields["2. high"]),
			Low:    parseFloat(fields["3. low"]),
			Close:  parseFloat(fields["4. close"]),
			Source: AlphaVantageName,
		}
		bar.AdjClose = bar.Close
		bar.Volume, _ = strconv.ParseInt(fields["5. volume"], 10, 64)
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

type avSearch struct {
	avEnvelope
	BestMatches []map[string]string `json:"bestMatches"`
}

// Search returns symbols matching query.
func (a *AlphaVantage) Search(ctx context.Context, query string) ([]market.SymbolInfo, error) {
	var res avSearch
	if err := a.query(ctx, url.Values{
		"function": {"SYMBOL_SEARCH"},
		"keywords": {query},
	}, &res); err != nil {
		return nil, err
	}
	if err := res.err(); err != nil {
		return nil, err
	}
	infos := make([]market.SymbolInfo, 0, len(res.BestMatches))
	for _, m := range res.BestMatches {
		infos = append(infos, market.SymbolInfo{
			Symbol:   market.NormalizeSymbol(m["1. symbol"]),
			Name:     m["2. name"],
			Type:     strings.ToLower(m["3. type"]),
			Exchange: m["4. region"],
			Currency: m["8. currency"],
			Source:   AlphaVantageName,
		})
	}
	return infos, nil
}

func (a *AlphaVantage) query(ctx context.Context, q url.Values, v any) error {
	if a.apiKey == "" {
		return ErrMissingAPIKey
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", AlphaVantageName, err)
	}
	q.Set("apikey", a.apiKey)
	return getJSON(ctx, a.client, AlphaVantageName, a.baseURL+"/query?"+q.Encode(), v)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
