package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS price_bars (
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		adj_close REAL NOT NULL,
		volume INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (symbol, date)
	);

	CREATE TABLE IF NOT EXISTS symbols (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		exchange TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	`,
	`
	CREATE INDEX IF NOT EXISTS idx_price_bars_date ON price_bars(date);
	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
	`,
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	current, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	for v := current; v < len(migrations); v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(v+1)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		s.log.Debug("applied migration", "version", v+1)
	}
	return nil
}

// SchemaVersion returns the applied schema version, 0 for a new database.
func (s *SQLite) SchemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return strconv.Atoi(value)
}
