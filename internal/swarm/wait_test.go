package swarm_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kheven/swarm/internal/swarm"
)

func TestBetween_StaysInBoundsWithExpectedMean(t *testing.T) {
	wait := swarm.Between(500*time.Millisecond, 2*time.Second)
	rng := rand.New(rand.NewPCG(1234, 5678))

	const n = 10000
	var sum time.Duration
	for i := 0; i < n; i++ {
		d := wait(rng, 0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 2*time.Second)
		sum += d
	}

	mean := (sum / n).Seconds()
	assert.InDelta(t, 1.25, mean, 0.05)
}

func TestBetween_EqualBounds(t *testing.T) {
	wait := swarm.Between(time.Second, time.Second)
	rng := rand.New(rand.NewPCG(1, 2))
	assert.Equal(t, time.Second, wait(rng, 0))
}

func TestBetween_SwappedBounds(t *testing.T) {
	wait := swarm.Between(2*time.Second, time.Second)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		d := wait(rng, 0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestConstant(t *testing.T) {
	wait := swarm.Constant(300 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, wait(nil, 5*time.Second))
}

func TestConstantPacing(t *testing.T) {
	wait := swarm.ConstantPacing(time.Second)

	assert.Equal(t, 700*time.Millisecond, wait(nil, 300*time.Millisecond))
	assert.Equal(t, time.Duration(0), wait(nil, time.Second))
	assert.Equal(t, time.Duration(0), wait(nil, 3*time.Second))
}
