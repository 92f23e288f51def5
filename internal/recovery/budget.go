package recovery

import (
	"errors"
	"sync"
)

// ErrStepBackBudget is returned when a milestone has used all its step-backs.
var ErrStepBackBudget = errors.New("step-back budget exhausted")

// Budget limits step-backs per milestone. In infinite mode it never runs out;
// stagnation detection bounds the run instead.
type Budget struct {
	mu       sync.Mutex
	max      int
	infinite bool
	used     map[int]int
}

// NewBudget creates a budget of max step-backs per milestone.
func NewBudget(max int, infinite bool) *Budget {
	return &Budget{max: max, infinite: infinite, used: make(map[int]int)}
}

// Allow reports whether milestone may step back once more.
func (b *Budget) Allow(milestone int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.infinite || b.used[milestone] < b.max
}

// Use consumes one step-back for milestone.
func (b *Budget) Use(milestone int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.infinite && b.used[milestone] >= b.max {
		return ErrStepBackBudget
	}
	b.used[milestone]++
	return nil
}

// Used returns the step-backs consumed by milestone.
func (b *Budget) Used(milestone int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used[milestone]
}

// Infinite reports whether the budget is unbounded.
func (b *Budget) Infinite() bool {
	return b.infinite
}
