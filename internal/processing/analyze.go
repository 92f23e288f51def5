package processing

import (
	"math"
	"time"

	"github.com/thruflo/cc-automator/internal/market"
)

// TradingDays annualises daily volatility.
const TradingDays = 252

// Analysis summarizes a cleaned, date-ordered series.
type Analysis struct {
	Symbol          string
	Bars            int
	From, To        time.Time
	FirstClose      float64
	LastClose       float64
	ChangePct       float64
	MinClose        float64
	MaxClose        float64
	SMA20           float64
	SMA50           float64
	MeanDailyReturn float64
	Volatility      float64
	MaxDrawdownPct  float64
}

// HasSMA20 reports whether the series was long enough for SMA20.
func (a Analysis) HasSMA20() bool { return a.Bars >= 20 }

// HasSMA50 reports whether the series was long enough for SMA50.
func (a Analysis) HasSMA50() bool { return a.Bars >= 50 }

// Analyze computes summary statistics. bars must be cleaned and sorted;
// an empty slice yields a zero Analysis.
func Analyze(bars []market.PriceBar) Analysis {
	if len(bars) == 0 {
		return Analysis{}
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	a := Analysis{
		Symbol:     bars[0].Symbol,
		Bars:       len(bars),
		From:       bars[0].Date,
		To:         bars[len(bars)-1].Date,
		FirstClose: closes[0],
		LastClose:  closes[len(closes)-1],
		MinClose:   closes[0],
		MaxClose:   closes[0],
	}
	a.ChangePct = (a.LastClose - a.FirstClose) / a.FirstClose * 100

	peak := closes[0]
	for _, c := range closes {
		a.MinClose = math.Min(a.MinClose, c)
		a.MaxClose = math.Max(a.MaxClose, c)
		peak = math.Max(peak, c)
		if dd := (peak - c) / peak * 100; dd > a.MaxDrawdownPct {
			a.MaxDrawdownPct = dd
		}
	}
	a.SMA20 = SMA(closes, 20)
	a.SMA50 = SMA(closes, 50)

	returns := DailyReturns(closes)
	if len(returns) > 0 {
		a.MeanDailyReturn = mean(returns)
	}
	if len(returns) > 1 {
		a.Volatility = stddev(returns) * math.Sqrt(TradingDays)
	}
	return a
}

// SMA returns the mean of the last n values, or 0 when there are fewer.
func SMA(vals []float64, n int) float64 {
	if n <= 0 || len(vals) < n {
		return 0
	}
	return mean(vals[len(vals)-n:])
}

// DailyReturns returns the simple returns between consecutive values.
func DailyReturns(vals []float64) []float64 {
	if len(vals) < 2 {
		return nil
	}
	out := make([]float64, 0, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		out = append(out, vals[i]/vals[i-1]-1)
	}
	return out
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stddev is the sample standard deviation.
func stddev(vals []float64) float64 {
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}
