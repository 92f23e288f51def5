package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/market"
)

// Manager tries sources in order and returns the first usable answer.
type Manager struct {
	sources []Source
	log     *logging.Logger
}

// NewManager creates a Manager over sources, in priority order.
func NewManager(sources ...Source) *Manager {
	return &Manager{sources: sources, log: logging.With("component", "datasource")}
}

// Sources returns the configured sources.
func (m *Manager) Sources() []Source {
	return m.sources
}

// Only returns a Manager restricted to the named source.
func (m *Manager) Only(name string) (*Manager, error) {
	for _, s := range m.sources {
		if s.Name() == name {
			return &Manager{sources: []Source{s}, log: m.log}, nil
		}
	}
	return nil, fmt.Errorf("unknown source %q", name)
}

// FetchDaily returns bars from the first source that has data for symbol.
// When every source fails the errors are joined, so errors.Is still finds
// ErrNotFound or ErrRateLimited.
func (m *Manager) FetchDaily(ctx context.Context, symbol string, r market.DateRange) ([]market.PriceBar, error) {
	if len(m.sources) == 0 {
		return nil, errors.New("no data sources configured")
	}
	var errs []error
	for _, s := range m.sources {
		bars, err := s.FetchDaily(ctx, symbol, r)
		if err == nil && len(bars) > 0 {
			m.log.Debug("fetched bars", "source", s.Name(), "symbol", symbol, "bars", len(bars))
			return bars, nil
		}
		if err == nil {
			err = fmt.Errorf("%s: no bars for %s in %s: %w", s.Name(), symbol, r, ErrNotFound)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Warn("source failed, trying next", "source", s.Name(), "symbol", symbol, "error", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("all sources failed for %s: %w", symbol, errors.Join(errs...))
}

// Search returns the matches of the first source that answers.
func (m *Manager) Search(ctx context.Context, query string) ([]market.SymbolInfo, error) {
	if len(m.sources) == 0 {
		return nil, errors.New("no data sources configured")
	}
	var errs []error
	for _, s := range m.sources {
		infos, err := s.Search(ctx, query)
		if err == nil {
			return infos, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Warn("search failed, trying next", "source", s.Name(), "query", query, "error", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("all sources failed to search %q: %w", query, errors.Join(errs...))
}
