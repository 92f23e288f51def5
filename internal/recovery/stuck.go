package recovery

import (
	"encoding/hex"
	"errors"
	"sort"

	"github.com/thruflo/cc-automator/internal/pycheck"
	"golang.org/x/crypto/blake2b"
)

// ErrStagnated is returned when the outstanding issues stop changing.
var ErrStagnated = errors.New("no progress: outstanding issues unchanged")

// Signature hashes the sorted set of issue locations. Identical sets of
// outstanding problems produce identical signatures regardless of order or
// message wording.
func Signature(issues []pycheck.Issue) string {
	locs := make([]string, 0, len(issues))
	for _, i := range issues {
		loc := i.Location()
		if i.Code != "" {
			loc += ":" + i.Code
		}
		locs = append(locs, loc)
	}
	sort.Strings(locs)

	h, _ := blake2b.New256(nil)
	for _, l := range locs {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StagnationTracker counts consecutive iterations whose signature did not
// change.
type StagnationTracker struct {
	limit    int
	last     string
	stagnant int
	seen     bool
}

// NewStagnationTracker creates a tracker that reports stuck after limit
// unchanged iterations.
func NewStagnationTracker(limit int) *StagnationTracker {
	return &StagnationTracker{limit: limit}
}

// Observe records one iteration's signature and reports whether the limit
// has been reached.
func (t *StagnationTracker) Observe(sig string) bool {
	if t.seen && sig == t.last {
		t.stagnant++
	} else {
		t.stagnant = 0
	}
	t.last = sig
	t.seen = true
	return t.Stuck()
}

// Stuck reports whether the stagnation limit has been reached.
func (t *StagnationTracker) Stuck() bool {
	return t.limit > 0 && t.stagnant >= t.limit
}

// Stagnant returns the current count of unchanged iterations.
func (t *StagnationTracker) Stagnant() int {
	return t.stagnant
}

// Reset clears the tracker.
func (t *StagnationTracker) Reset() {
	*t = StagnationTracker{limit: t.limit}
}

// DetectStuck checks whether the last threshold signatures are identical.
func DetectStuck(signatures []string, threshold int) bool {
	if threshold <= 0 || len(signatures) < threshold {
		return false
	}
	recent := signatures[len(signatures)-threshold:]
	for _, s := range recent[1:] {
		if s != recent[0] {
			return false
		}
	}
	return true
}
