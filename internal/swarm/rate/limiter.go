// Package rate caps how fast requests leave the process.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter hands out request slots evenly spaced at a fixed rate.
//
// It works like a leaky bucket that drips one slot every 1/rate seconds.
// A caller that arrives after its slot is already due proceeds at once,
// so a slow target never builds up a backlog that is later burst out.
// One Limiter is shared by every user of a run.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time

	granted atomic.Int64
	waited  atomic.Int64
}

// NewLimiter returns a limiter allowing perSecond requests per second.
// A non-positive rate returns nil, which never blocks.
func NewLimiter(perSecond float64) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	return &Limiter{interval: time.Duration(float64(time.Second) / perSecond)}
}

// Reserve claims the next slot and returns when it starts.
func (l *Limiter) Reserve() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.interval)

	l.granted.Add(1)
	l.waited.Add(int64(slot.Sub(now)))
	return slot
}

// Wait blocks until the caller's slot starts or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}

	d := time.Until(l.Reserve())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the configured requests per second, or 0 for nil.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	return float64(time.Second) / float64(l.interval)
}

// Stats reports limiter activity.
type Stats struct {
	Rate     float64       `json:"rate"`
	Granted  int64         `json:"granted"`
	WaitTime time.Duration `json:"waitTime"`
}

// Stats returns how many slots were granted and the total time callers
// were told to wait.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Rate:     l.Rate(),
		Granted:  l.granted.Load(),
		WaitTime: time.Duration(l.waited.Load()),
	}
}
