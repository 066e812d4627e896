package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	assert.Nil(t, NewLimiter(-5))

	l := NewLimiter(100)
	require.NotNil(t, l)
	assert.InDelta(t, 100.0, l.Rate(), 0.001)
}

func TestLimiter_NilNeverBlocks(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
	assert.Equal(t, 0.0, l.Rate())
	assert.Equal(t, Stats{}, l.Stats())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestLimiter_ReserveSpacing(t *testing.T) {
	l := NewLimiter(100)

	first := l.Reserve()
	assert.WithinDuration(t, time.Now(), first, 5*time.Millisecond, "first slot is immediate")

	second := l.Reserve()
	third := l.Reserve()
	assert.Equal(t, 10*time.Millisecond, second.Sub(first))
	assert.Equal(t, 10*time.Millisecond, third.Sub(second))
}

func TestLimiter_NoBurstAfterIdle(t *testing.T) {
	l := NewLimiter(100)
	_ = l.Reserve()

	time.Sleep(50 * time.Millisecond)

	now := time.Now()
	a := l.Reserve()
	b := l.Reserve()
	assert.WithinDuration(t, now, a, 5*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b.Sub(a), "idle time is not saved up")
}

func TestLimiter_WaitPacesCallers(t *testing.T) {
	l := NewLimiter(200)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.NoError(t, l.Wait(ctx))
			}
		}()
	}
	wg.Wait()

	// 20 slots at 5ms apart: the last starts 95ms after the first.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	stats := l.Stats()
	assert.Equal(t, int64(20), stats.Granted)
	assert.Positive(t, stats.WaitTime)
}

func TestLimiter_WaitRespectsContext(t *testing.T) {
	l := NewLimiter(1)
	_ = l.Reserve()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
