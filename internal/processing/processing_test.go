package processing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/market"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func bar(d int, close float64) market.PriceBar {
	return market.PriceBar{Symbol: "ACME", Date: day(d), Open: close, High: close, Low: close, Close: close, AdjClose: close, Volume: 100}
}

func series(closes ...float64) []market.PriceBar {
	bars := make([]market.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = bar(i+1, c)
	}
	return bars
}

func TestClean(t *testing.T) {
	dup := bar(2, 11)
	dup.Date = day(2).Add(16 * time.Hour)

	broken := bar(4, 13)
	broken.High, broken.Low = 12, 14
	broken.Volume = -5
	broken.AdjClose = math.NaN()

	bars := []market.PriceBar{
		bar(3, 12),
		bar(2, 10),
		{Symbol: "ACME", Date: day(5), Open: math.NaN(), High: 1, Low: 1, Close: 1},
		{Symbol: "ACME", Date: day(6), Open: 1, High: 1, Low: 0, Close: 1},
		dup,
		broken,
		{Symbol: "ACME", Date: day(7), Open: 1, High: math.Inf(1), Low: 1, Close: 1},
	}

	out := Clean(bars)
	require.Len(t, out, 3)
	assert.Equal(t, []time.Time{day(2), day(3), day(4)}, []time.Time{out[0].Date, out[1].Date, out[2].Date})
	assert.Equal(t, 11.0, out[0].Close, "last duplicate wins")

	fixed := out[2]
	assert.Equal(t, 14.0, fixed.High)
	assert.Equal(t, 12.0, fixed.Low)
	assert.Equal(t, int64(0), fixed.Volume)
	assert.Equal(t, 13.0, fixed.AdjClose)
	assert.Empty(t, Validate(fixed))
}

func TestValidate(t *testing.T) {
	assert.Empty(t, Validate(bar(1, 10)))

	b := market.PriceBar{Open: -1, High: 5, Low: 6, Close: 10, Volume: -1}
	errs := Validate(b)
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	assert.Contains(t, msgs, "missing symbol")
	assert.Contains(t, msgs, "missing date")
	assert.Contains(t, msgs, "open must be a positive number, got -1")
	assert.Contains(t, msgs, "high 5.0000 below low 6.0000")
	assert.Contains(t, msgs, "close 10.0000 outside 6.0000..5.0000")
	assert.Contains(t, msgs, "negative volume -1")
}

func TestPipeline_Process(t *testing.T) {
	nameless := bar(3, 12)
	nameless.Symbol = ""
	bars := []market.PriceBar{bar(1, 10), bar(2, 11), nameless, {Symbol: "ACME", Date: day(4)}}

	out, rep, err := NewPipeline(2).Process(bars)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, Report{Input: 4, Dropped: 1, Invalid: 1, Output: 2, Problems: rep.Problems}, rep)
	require.Len(t, rep.Problems, 1)
	assert.Contains(t, rep.Problems[0], "2024-01-03: missing symbol")

	_, _, err = NewPipeline(3).Process(bars)
	assert.ErrorIs(t, err, ErrTooFewBars)
}

func TestAnalyze(t *testing.T) {
	a := Analyze(series(100, 110, 99, 120))

	assert.Equal(t, "ACME", a.Symbol)
	assert.Equal(t, 4, a.Bars)
	assert.Equal(t, day(1), a.From)
	assert.Equal(t, day(4), a.To)
	assert.InDelta(t, 20.0, a.ChangePct, 1e-9)
	assert.Equal(t, 99.0, a.MinClose)
	assert.Equal(t, 120.0, a.MaxClose)
	assert.InDelta(t, 10.0, a.MaxDrawdownPct, 1e-9)
	assert.False(t, a.HasSMA20())
	assert.Zero(t, a.SMA20)

	returns := []float64{0.1, 99.0/110 - 1, 120.0/99 - 1}
	assert.InDelta(t, (returns[0]+returns[1]+returns[2])/3, a.MeanDailyReturn, 1e-12)
	assert.Greater(t, a.Volatility, 0.0)
}

func TestAnalyze_MovingAverages(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	a := Analyze(series(closes...)[:28])
	assert.True(t, a.HasSMA20())
	assert.False(t, a.HasSMA50())
	assert.InDelta(t, 18.5, a.SMA20, 1e-9)

	assert.InDelta(t, 35.5, SMA(closes, 50), 1e-9)
	assert.Zero(t, Analyze(nil).Bars)
}

func TestAnalyze_FlatSeriesHasNoVolatility(t *testing.T) {
	a := Analyze(series(50, 50, 50))
	assert.Zero(t, a.Volatility)
	assert.Zero(t, a.MaxDrawdownPct)
	assert.Zero(t, a.ChangePct)
}
