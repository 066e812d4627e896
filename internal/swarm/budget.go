package swarm

import (
	"sync"
	"sync/atomic"
)

// IterationBudget caps the total number of iterations shared by all users.
//
// A nil *IterationBudget is unlimited; all methods are safe to call on it.
type IterationBudget struct {
	limit     int64
	granted   atomic.Int64
	completed atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
}

// NewIterationBudget returns a budget of limit iterations, or nil (unlimited)
// when limit <= 0.
func NewIterationBudget(limit int64) *IterationBudget {
	if limit <= 0 {
		return nil
	}
	return &IterationBudget{
		limit: limit,
		done:  make(chan struct{}),
	}
}

// Acquire reserves one iteration. Returns false once the budget is spent.
func (b *IterationBudget) Acquire() bool {
	if b == nil {
		return true
	}
	if b.granted.Add(1) > b.limit {
		b.granted.Add(-1)
		return false
	}
	return true
}

// Release gives back an iteration that was acquired but never run.
func (b *IterationBudget) Release() {
	if b == nil {
		return
	}
	b.granted.Add(-1)
}

// Complete marks an acquired iteration as finished.
func (b *IterationBudget) Complete() {
	if b == nil {
		return
	}
	if b.completed.Add(1) >= b.limit {
		b.doneOnce.Do(func() { close(b.done) })
	}
}

// Completed returns how many iterations have finished.
func (b *IterationBudget) Completed() int64 {
	if b == nil {
		return 0
	}
	return b.completed.Load()
}

// Limit returns the budget size, or 0 when unlimited.
func (b *IterationBudget) Limit() int64 {
	if b == nil {
		return 0
	}
	return b.limit
}

// Done is closed when every iteration in the budget has completed.
// It is nil, and so never ready, for an unlimited budget.
func (b *IterationBudget) Done() <-chan struct{} {
	if b == nil {
		return nil
	}
	return b.done
}
