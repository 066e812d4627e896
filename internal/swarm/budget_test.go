package swarm_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kheven/swarm/internal/swarm"
)

func TestIterationBudget_NilIsUnlimited(t *testing.T) {
	b := swarm.NewIterationBudget(0)
	assert.Nil(t, b)

	for i := 0; i < 10; i++ {
		assert.True(t, b.Acquire())
		b.Complete()
	}
	b.Release()
	assert.Equal(t, int64(0), b.Completed())
	assert.Equal(t, int64(0), b.Limit())
	assert.Nil(t, b.Done())
}

func TestIterationBudget_Limit(t *testing.T) {
	b := swarm.NewIterationBudget(3)

	assert.True(t, b.Acquire())
	assert.True(t, b.Acquire())
	assert.True(t, b.Acquire())
	assert.False(t, b.Acquire())

	b.Release()
	assert.True(t, b.Acquire(), "released iteration can be acquired again")

	b.Complete()
	b.Complete()
	select {
	case <-b.Done():
		t.Fatal("done before limit")
	default:
	}

	b.Complete()
	<-b.Done()
	assert.Equal(t, int64(3), b.Completed())
}

func TestIterationBudget_Concurrent(t *testing.T) {
	b := swarm.NewIterationBudget(500)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b.Acquire() {
				mu.Lock()
				granted++
				mu.Unlock()
				b.Complete()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, granted)
	assert.Equal(t, int64(500), b.Completed())
	<-b.Done()
}
