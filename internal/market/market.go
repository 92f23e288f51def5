// Package market holds the price and symbol types shared by the data
// sources, the processing pipeline and the repository.
package market

import (
	"strings"
	"time"
)

// DateLayout is the calendar date format used in storage keys and output.
const DateLayout = "2006-01-02"

// PriceBar is one trading day of OHLCV data for a symbol.
type PriceBar struct {
	Symbol   string    `json:"symbol"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
	Source   string    `json:"source"`
}

// Day returns the bar date truncated to UTC midnight.
func (b PriceBar) Day() time.Time {
	return Day(b.Date)
}

// SymbolInfo describes a tradable instrument returned by a search.
type SymbolInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
	Type     string `json:"type,omitempty"`
	Currency string `json:"currency,omitempty"`
	Source   string `json:"source"`
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// LastDays returns the range covering the n days up to and including end.
func LastDays(end time.Time, n int) DateRange {
	if n < 1 {
		n = 1
	}
	end = Day(end)
	return DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}

// Valid reports whether the range is non-empty.
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !Day(r.End).Before(Day(r.Start))
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
