package fincli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thruflo/cc-automator/internal/datasource"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/market"
	"github.com/thruflo/cc-automator/internal/processing"
	"github.com/thruflo/cc-automator/internal/repository"
)

// App holds the collaborators shared by the findata commands.
type App struct {
	Repo     repository.Repository
	Sources  *datasource.Manager
	Pipeline *processing.Pipeline
	Out      io.Writer
	Now      func() time.Time
}

// Open builds an App from cfg: the SQLite repository, the Redis cache when
// configured and the enabled data sources in order.
func Open(ctx context.Context, cfg Config, out io.Writer) (*App, error) {
	sources, err := buildSources(cfg)
	if err != nil {
		return nil, err
	}
	db, err := repository.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	var cache repository.Cache = repository.NopCache{}
	if cfg.RedisURL != "" {
		rc, err := repository.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logging.Warn("redis cache unavailable, continuing without it", "error", err)
		} else {
			cache = rc
		}
	}
	return &App{
		Repo:     repository.NewCachedRepository(db, cache, cfg.CacheTTL),
		Sources:  datasource.NewManager(sources...),
		Pipeline: processing.NewPipeline(1),
		Out:      out,
		Now:      time.Now,
	}, nil
}

func buildSources(cfg Config) ([]datasource.Source, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	var sources []datasource.Source
	for _, name := range cfg.Sources {
		switch name {
		case datasource.YahooName:
			sources = append(sources, datasource.NewYahoo(cfg.YahooURL, client))
		case datasource.AlphaVantageName:
			if cfg.AlphaVantageKey == "" {
				logging.Debug("skipping alphavantage: no API key")
				continue
			}
			opts := []datasource.AlphaVantageOption{datasource.WithHTTPClient(client)}
			if cfg.AlphaVantageURL != "" {
				opts = append(opts, datasource.WithBaseURL(cfg.AlphaVantageURL))
			}
			sources = append(sources, datasource.NewAlphaVantage(cfg.AlphaVantageKey, opts...))
		default:
			return nil, fmt.Errorf("unknown source %q in %s_SOURCES", name, EnvPrefix)
		}
	}
	if len(sources) == 0 {
		return nil, errors.New("no data sources enabled")
	}
	return sources, nil
}

// Close releases the repository.
func (a *App) Close() error {
	return a.Repo.Close()
}

// FetchResult describes one fetch.
type FetchResult struct {
	Symbol string
	Range  market.DateRange
	Bars   []market.PriceBar
	Report processing.Report
}

// Fetch downloads daily bars for the last days days, cleans them and stores
// them. source restricts the fetch to one named source when set.
func (a *App) Fetch(ctx context.Context, symbol string, days int, source string) (*FetchResult, error) {
	symbol = market.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if days < 1 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	mgr := a.Sources
	if source != "" {
		var err error
		if mgr, err = mgr.Only(source); err != nil {
			return nil, err
		}
	}

	r := market.LastDays(a.Now(), days)
	raw, err := mgr.FetchDaily(ctx, symbol, r)
	if err != nil {
		return nil, err
	}
	bars, rep, err := a.Pipeline.Process(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	if _, err := a.Repo.UpsertBars(ctx, bars); err != nil {
		return nil, err
	}
	return &FetchResult{Symbol: symbol, Range: r, Bars: bars, Report: rep}, nil
}

// Search queries the sources and stores the matches. When every source
// fails it falls back to symbols already in the repository.
func (a *App) Search(ctx context.Context, query string) ([]market.SymbolInfo, error) {
	infos, err := a.Sources.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		local, lerr := a.Repo.Symbols(ctx, query)
		if lerr != nil || len(local) == 0 {
			return nil, err
		}
		logging.Warn("search sources failed, showing stored symbols", "error", err)
		return local, nil
	}
	for _, info := range infos {
		if err := a.Repo.UpsertSymbol(ctx, info); err != nil {
			return nil, err
		}
	}
	return infos, nil
}

// Analyze summarizes the stored bars for the last days days, fetching them
// first when none are stored.
func (a *App) Analyze(ctx context.Context, symbol string, days int) (processing.Analysis, error) {
	symbol = market.NormalizeSymbol(symbol)
	if days < 1 {
		return processing.Analysis{}, fmt.Errorf("days must be positive, got %d", days)
	}
	r := market.LastDays(a.Now(), days)
	bars, err := a.Repo.Bars(ctx, symbol, r)
	if err != nil {
		return processing.Analysis{}, err
	}
	if len(bars) == 0 {
		logging.Info("no stored bars, fetching", "symbol", symbol, "days", days)
		res, err := a.Fetch(ctx, symbol, days, "")
		if err != nil {
			return processing.Analysis{}, err
		}
		bars = res.Bars
	}
	return processing.Analyze(bars), nil
}
