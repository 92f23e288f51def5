// Package processing cleans, validates and summarizes daily price bars.
package processing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/market"
)

// Clean returns a new slice of usable bars. It drops bars with non-finite or
// non-positive prices and keeps the last bar for each date, sorted by date.
// Kept bars get a high/low envelope covering open and close, and negative
// volume becomes 0.
func Clean(bars []market.PriceBar) []market.PriceBar {
	byDay := make(map[int64]market.PriceBar, len(bars))
	for _, b := range bars {
		if !positive(b.Open, b.High, b.Low, b.Close) {
			continue
		}
		b.Date = b.Day()
		if !finite(b.AdjClose) || b.AdjClose <= 0 {
			b.AdjClose = b.Close
		}
		if b.High < b.Low {
			b.High, b.Low = b.Low, b.High
		}
		b.High = math.Max(b.High, math.Max(b.Open, b.Close))
		b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))
		if b.Volume < 0 {
			b.Volume = 0
		}
		byDay[b.Date.Unix()] = b
	}

	out := make([]market.PriceBar, 0, len(byDay))
	for _, b := range byDay {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Validate checks one bar and returns every problem found.
func Validate(b market.PriceBar) []error {
	var errs []error
	if b.Symbol == "" {
		errs = append(errs, errors.New("missing symbol"))
	}
	if b.Date.IsZero() {
		errs = append(errs, errors.New("missing date"))
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
		if !finite(f.v) || f.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive number, got %v", f.name, f.v))
		}
	}
	if b.High < b.Low {
		errs = append(errs, fmt.Errorf("high %.4f below low %.4f", b.High, b.Low))
	}
	if b.Close > b.High || b.Close < b.Low {
		errs = append(errs, fmt.Errorf("close %.4f outside %.4f..%.4f", b.Close, b.Low, b.High))
	}
	if b.Volume < 0 {
		errs = append(errs, fmt.Errorf("negative volume %d", b.Volume))
	}
	return errs
}

// Report summarizes one Process call.
type Report struct {
	Input    int
	Dropped  int
	Invalid  int
	Output   int
	Problems []string
}

// Pipeline runs Clean followed by Validate.
type Pipeline struct {
	// MinBars fails the run when fewer bars survive.
	MinBars int
	log     *logging.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(minBars int) *Pipeline {
	return &Pipeline{MinBars: minBars, log: logging.With("component", "processing")}
}

// ErrTooFewBars is returned when cleaning leaves fewer than MinBars bars.
var ErrTooFewBars = errors.New("too few valid bars")

// Process cleans bars and drops those that still fail validation.
func (p *Pipeline) Process(bars []market.PriceBar) ([]market.PriceBar, Report, error) {
	rep := Report{Input: len(bars)}
	cleaned := Clean(bars)
	rep.Dropped = len(bars) - len(cleaned)

	valid := cleaned[:0]
	for _, b := range cleaned {
		if errs := Validate(b); len(errs) > 0 {
			rep.Invalid++
			rep.Problems = append(rep.Problems, fmt.Sprintf("%s %s: %v", b.Symbol, b.Date.Format(market.DateLayout), errors.Join(errs...)))
			continue
		}
		valid = append(valid, b)
	}
	rep.Output = len(valid)
	p.log.Debug("processed bars", "input", rep.Input, "dropped", rep.Dropped, "invalid", rep.Invalid, "output", rep.Output)

	if len(valid) < p.MinBars {
		return valid, rep, fmt.Errorf("%w: %d of %d required", ErrTooFewBars, len(valid), p.MinBars)
	}
	return valid, rep, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(vals ...float64) bool {
	for _, v := range vals {
		if !finite(v) || v <= 0 {
			return false
		}
	}
	return true
}
