package fincli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/thruflo/cc-automator/internal/market"
	"github.com/thruflo/cc-automator/internal/processing"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func barsTable(bars []market.PriceBar) string {
	t := newTable("Date", "Open", "High", "Low", "Close", "Adj Close", "Volume", "Source")
	for _, b := range bars {
		t.Row(b.Date.Format(market.DateLayout), price(b.Open), price(b.High), price(b.Low),
			price(b.Close), price(b.AdjClose), strconv.FormatInt(b.Volume, 10), b.Source)
	}
	return t.String()
}

func symbolsTable(infos []market.SymbolInfo) string {
	t := newTable("Symbol", "Name", "Exchange", "Type", "Currency", "Source")
	for _, i := range infos {
		t.Row(i.Symbol, i.Name, i.Exchange, i.Type, i.Currency, i.Source)
	}
	return t.String()
}

func analysisTable(a processing.Analysis) string {
	t := newTable("Metric", a.Symbol)
	t.Row("Period", fmt.Sprintf("%s to %s (%d bars)", a.From.Format(market.DateLayout), a.To.Format(market.DateLayout), a.Bars))
	t.Row("First close", price(a.FirstClose))
	t.Row("Last close", price(a.LastClose))
	t.Row("Change", pct(a.ChangePct))
	t.Row("Range", price(a.MinClose)+" - "+price(a.MaxClose))
	t.Row("SMA 20", optional(a.HasSMA20(), a.SMA20))
	t.Row("SMA 50", optional(a.HasSMA50(), a.SMA50))
	t.Row("Mean daily return", pct(a.MeanDailyReturn*100))
	t.Row("Volatility (annual)", pct(a.Volatility*100))
	t.Row("Max drawdown", fmt.Sprintf("%.2f%%", a.MaxDrawdownPct))
	return t.String()
}

func price(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func optional(ok bool, v float64) string {
	if !ok {
		return "n/a"
	}
	return price(v)
}

func tail(bars []market.PriceBar, n int) []market.PriceBar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
