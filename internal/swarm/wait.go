package swarm

import (
	"math/rand/v2"
	"time"
)

// WaitTime returns how long a user sleeps after a task.
//
// taskTime is how long the task that just finished took; only pacing
// policies look at it.
type WaitTime func(rng *rand.Rand, taskTime time.Duration) time.Duration

// Between waits a uniformly random duration in [min, max].
func Between(min, max time.Duration) WaitTime {
	if max < min {
		min, max = max, min
	}
	span := max - min
	return func(rng *rand.Rand, _ time.Duration) time.Duration {
		if span == 0 {
			return min
		}
		// Int64N is exclusive, so add one to make max reachable.
		return min + time.Duration(rng.Int64N(int64(span)+1))
	}
}

// Constant always waits d.
func Constant(d time.Duration) WaitTime {
	return func(*rand.Rand, time.Duration) time.Duration {
		return d
	}
}

// ConstantPacing waits so that a task plus its wait takes d.
// A task that ran longer than d is followed by no wait at all.
func ConstantPacing(d time.Duration) WaitTime {
	return func(_ *rand.Rand, taskTime time.Duration) time.Duration {
		if taskTime >= d {
			return 0
		}
		return d - taskTime
	}
}
