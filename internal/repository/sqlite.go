// Package repository persists price bars and symbol metadata in SQLite with
// an optional read-through cache in front of bar queries.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/market"
	_ "modernc.org/sqlite"
)

// Repository is the storage used by the findata commands.
type Repository interface {
	UpsertBars(ctx context.Context, bars []market.PriceBar) (int, error)
	Bars(ctx context.Context, symbol string, r market.DateRange) ([]market.PriceBar, error)
	UpsertSymbol(ctx context.Context, info market.SymbolInfo) error
	Symbols(ctx context.Context, query string) ([]market.SymbolInfo, error)
	Close() error
}

// SQLite is a Repository backed by a SQLite file.
type SQLite struct {
	db  *sql.DB
	log *logging.Logger
	now func() time.Time
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLite{db: db, log: logging.With("component", "repository"), now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	s.log.Debug("repository opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertBars inserts or replaces bars keyed by (symbol, date) in a single
// transaction and returns how many were written.
func (s *SQLite) UpsertBars(ctx context.Context, bars []market.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_bars (symbol, date, open, high, low, close, adj_close, volume, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, adj_close = excluded.adj_close,
			volume = excluded.volume, source = excluded.source,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, market.NormalizeSymbol(b.Symbol), b.Day().Format(market.DateLayout),
			b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume, b.Source, now)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert %s %s: %w", b.Symbol, b.Day().Format(market.DateLayout), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bars: %w", err)
	}
	return len(bars), nil
}

// Bars returns the stored bars for symbol within r, oldest first.
func (s *SQLite) Bars(ctx context.Context, symbol string, r market.DateRange) ([]market.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, date, open, high, low, close, adj_close, volume, source
		FROM price_bars
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		market.NormalizeSymbol(symbol), r.Start.Format(market.DateLayout), r.End.Format(market.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []market.PriceBar
	for rows.Next() {
		var b market.PriceBar
		var date string
		if err := rows.Scan(&b.Symbol, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume, &b.Source); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		if b.Date, err = time.Parse(market.DateLayout, date); err != nil {
			return nil, fmt.Errorf("bad stored date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// UpsertSymbol stores symbol metadata, keeping existing non-empty fields
// when the new record leaves them blank.
func (s *SQLite) UpsertSymbol(ctx context.Context, info market.SymbolInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbols (symbol, name, exchange, type, currency, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = COALESCE(NULLIF(excluded.name, ''), symbols.name),
			exchange = COALESCE(NULLIF(excluded.exchange, ''), symbols.exchange),
			type = COALESCE(NULLIF(excluded.type, ''), symbols.type),
			currency = COALESCE(NULLIF(excluded.currency, ''), symbols.currency),
			source = excluded.source,
			updated_at = excluded.updated_at`,
		market.NormalizeSymbol(info.Symbol), info.Name, info.Exchange, info.Type, info.Currency, info.Source, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert symbol %s: %w", info.Symbol, err)
	}
	return nil
}

// Symbols returns stored symbols whose ticker or name contains query,
// case-insensitively. An empty query returns every symbol.
func (s *SQLite) Symbols(ctx context.Context, query string) ([]market.SymbolInfo, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, name, exchange, type, currency, source
		FROM symbols
		WHERE symbol LIKE ? ESCAPE '\' OR name LIKE ? ESCAPE '\'
		ORDER BY symbol`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var infos []market.SymbolInfo
	for rows.Next() {
		var i market.SymbolInfo
		if err := rows.Scan(&i.Symbol, &i.Name, &i.Exchange, &i.Type, &i.Currency, &i.Source); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		infos = append(infos, i)
	}
	return infos, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
