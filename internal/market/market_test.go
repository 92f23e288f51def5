package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLastDays(t *testing.T) {
	end := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	r := LastDays(end, 5)
	assert.Equal(t, "2024-03-06..2024-03-10", r.String())
	assert.True(t, r.Valid())
	assert.True(t, r.Contains(time.Date(2024, 3, 6, 23, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, r.End, LastDays(end, 0).Start)
}

func TestDateRangeValid(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.False(t, DateRange{}.Valid())
	assert.False(t, DateRange{Start: day, End: day.AddDate(0, 0, -1)}.Valid())
	assert.True(t, DateRange{Start: day, End: day}.Valid())
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeSymbol("  aapl "))
	assert.Equal(t, "BRK.B", NormalizeSymbol("brk.b"))
}
