package datasource

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thruflo/cc-automator/internal/market"
)

// YahooName identifies the Yahoo Finance source.
const YahooName = "yahoo"

// DefaultYahooURL is the Yahoo Finance query host.
const DefaultYahooURL = "https://query1.finance.yahoo.com"

// Yahoo reads the public chart and search endpoints of Yahoo Finance.
type Yahoo struct {
	baseURL string
	client  *http.Client
}

// NewYahoo creates a Yahoo source. An empty baseURL selects DefaultYahooURL.
func NewYahoo(baseURL string, client *http.Client) *Yahoo {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	if client == nil {
		client = newHTTPClient()
	}
	return &Yahoo{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (y *Yahoo) Name() string { return YahooName }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol   string `json:"symbol"`
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDaily returns daily bars for symbol within r. Days with missing
// values are returned with NaN prices so the cleaning step can drop them.
func (y *Yahoo) FetchDaily(ctx context.Context, symbol string, r market.DateRange) ([]market.PriceBar, error) {
	symbol = market.NormalizeSymbol(symbol)
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(market.Day(r.Start).Unix(), 10))
	q.Set("period2", strconv.FormatInt(market.Day(r.End).AddDate(0, 0, 1).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "history")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), q.Encode())

	var chart yahooChart
	if err := getJSON(ctx, y.client, YahooName, u, &chart); err != nil {
		return nil, err
	}
	if e := chart.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, fmt.Errorf("%s: %s: %w", YahooName, symbol, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %s: %s", YahooName, e.Code, e.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%s: %s: %w", YahooName, symbol, ErrNotFound)
	}

	res := chart.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]market.PriceBar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		date := time.Unix(ts, 0).UTC()
		if !r.Contains(date) {
			continue
		}
		bar := market.PriceBar{
			Symbol: symbol,
			Date:   market.Day(date),
			Open:   floatAt(quote.Open, i),
			High:   floatAt(quote.High, i),
			Low:    floatAt(quote.Low, i),
			Close:  floatAt(quote.Close, i),
			Source: YahooName,
		}
		bar.AdjClose = floatAt(adj, i)
		if math.IsNaN(bar.AdjClose) {
			bar.AdjClose = bar.Close
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			bar.Volume = *quote.Volume[i]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

type yahooSearch struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		Exchange  string `json:"exchange"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

// Search returns symbols matching query.
func (y *Yahoo) Search(ctx context.Context, query string) ([]market.SymbolInfo, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("quotesCount", "10")
	q.Set("newsCount", "0")
	u := fmt.Sprintf("%s/v1/finance/search?%s", y.baseURL, q.Encode())

	var res yahooSearch
	if err := getJSON(ctx, y.client, YahooName, u, &res); err != nil {
		return nil, err
	}
	infos := make([]market.SymbolInfo, 0, len(res.Quotes))
	for _, qt := range res.Quotes {
		if qt.Symbol == "" {
			continue
		}
		name := qt.LongName
		if name == "" {
			name = qt.ShortName
		}
		infos = append(infos, market.SymbolInfo{
			Symbol:   market.NormalizeSymbol(qt.Symbol),
			Name:     name,
			Exchange: qt.Exchange,
			Type:     strings.ToLower(qt.QuoteType),
			Source:   YahooName,
		})
	}
	return infos, nil
}

func floatAt(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return math.NaN()
	}
	return *vals[i]
}
