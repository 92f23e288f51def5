package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/market"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "findata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func day(d int) time.Time {
	return time.Date(2024, 2, d, 0, 0, 0, 0, time.UTC)
}

func bar(sym string, d int, close float64) market.PriceBar {
	return market.PriceBar{Symbol: sym, Date: day(d), Open: close, High: close + 1, Low: close - 1, Close: close, AdjClose: close, Volume: int64(d * 100), Source: "yahoo"}
}

var february = market.DateRange{Start: day(1), End: day(29)}

func TestSQLite_Migrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findata.db")
	db, err := Open(path)
	require.NoError(t, err)
	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	v, err = db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestSQLite_BarsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.UpsertBars(ctx, []market.PriceBar{bar("msft", 3, 400), bar("MSFT", 1, 398), bar("AAPL", 2, 180)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	bars, err := db.Bars(ctx, "msft", february)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, day(1), bars[0].Date)
	assert.Equal(t, "MSFT", bars[0].Symbol)
	assert.Equal(t, bar("MSFT", 3, 400), bars[1])

	updated := bar("MSFT", 3, 405)
	updated.Source = "alphavantage"
	_, err = db.UpsertBars(ctx, []market.PriceBar{updated})
	require.NoError(t, err)

	bars, err = db.Bars(ctx, "MSFT", market.DateRange{Start: day(2), End: day(3)})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 405.0, bars[0].Close)
	assert.Equal(t, "alphavantage", bars[0].Source)

	n, err = db.UpsertBars(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_Symbols(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertSymbol(ctx, market.SymbolInfo{Symbol: "aapl", Name: "Apple Inc.", Exchange: "NMS", Type: "equity", Source: "yahoo"}))
	require.NoError(t, db.UpsertSymbol(ctx, market.SymbolInfo{Symbol: "AAPL", Currency: "USD", Source: "alphavantage"}))
	require.NoError(t, db.UpsertSymbol(ctx, market.SymbolInfo{Symbol: "PINE_X", Name: "Pineapple 100% Corp", Source: "yahoo"}))

	infos, err := db.Symbols(ctx, "apple")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, market.SymbolInfo{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "NMS", Type: "equity", Currency: "USD", Source: "alphavantage"}, infos[0])

	infos, err = db.Symbols(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "PINE_X", infos[0].Symbol)

	infos, err = db.Symbols(ctx, "e_x")
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	infos, err = db.Symbols(ctx, "")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

// countingRepo counts Bars calls on top of a real database.
type countingRepo struct {
	*SQLite
	reads int
}

func (c *countingRepo) Bars(ctx context.Context, symbol string, r market.DateRange) ([]market.PriceBar, error) {
	c.reads++
	return c.SQLite.Bars(ctx, symbol, r)
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	return cache, mr
}

func TestCachedRepository_ReadThrough(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{SQLite: openTestDB(t)}
	cache, mr := newRedisCache(t)
	cached := NewCachedRepository(repo, cache, time.Minute)
	defer cached.Close()

	_, err := cached.UpsertBars(ctx, []market.PriceBar{bar("IBM", 1, 190), bar("IBM", 2, 191)})
	require.NoError(t, err)

	first, err := cached.Bars(ctx, "ibm", february)
	require.NoError(t, err)
	second, err := cached.Bars(ctx, "IBM", february)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.reads)

	_, err = cached.UpsertBars(ctx, []market.PriceBar{bar("IBM", 3, 192)})
	require.NoError(t, err)
	third, err := cached.Bars(ctx, "IBM", february)
	require.NoError(t, err)
	assert.Len(t, third, 3)
	assert.Equal(t, 2, repo.reads)

	mr.FastForward(2 * time.Minute)
	_, err = cached.Bars(ctx, "IBM", february)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.reads)
}

func TestCachedRepository_EmptyResultsAreNotCached(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{SQLite: openTestDB(t)}
	cache, mr := newRedisCache(t)
	cached := NewCachedRepository(repo, cache, 0)

	for i := 0; i < 2; i++ {
		bars, err := cached.Bars(ctx, "NONE", february)
		require.NoError(t, err)
		assert.Empty(t, bars)
	}
	assert.Equal(t, 2, repo.reads)
	assert.Empty(t, mr.Keys())
}

func TestCachedRepository_SurvivesCacheOutage(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{SQLite: openTestDB(t)}
	cache, mr := newRedisCache(t)
	cached := NewCachedRepository(repo, cache, time.Minute)

	mr.Close()
	_, err := cached.UpsertBars(ctx, []market.PriceBar{bar("IBM", 1, 190)})
	require.NoError(t, err)
	bars, err := cached.Bars(ctx, "IBM", february)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestCachedRepository_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{SQLite: openTestDB(t)}
	cache, mr := newRedisCache(t)
	cached := NewCachedRepository(repo, cache, time.Minute)

	_, err := repo.UpsertBars(ctx, []market.PriceBar{bar("IBM", 1, 190)})
	require.NoError(t, err)
	require.NoError(t, mr.Set("findata:bars:IBM:0:2024-02-01:2024-02-29", "{not json"))

	bars, err := cached.Bars(ctx, "IBM", february)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 1, repo.reads)
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "http://nope")
	assert.Error(t, err)
}

func TestNopCache(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{SQLite: openTestDB(t)}
	cached := NewCachedRepository(repo, nil, 0)
	_, err := cached.UpsertBars(ctx, []market.PriceBar{bar("IBM", 1, 190)})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := cached.Bars(ctx, "IBM", february)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, repo.reads)
}
