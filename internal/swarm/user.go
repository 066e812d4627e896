// Package swarm provides the simulated-user model: weighted tasks, wait
// policies, and the virtual users that execute them against a target host.
package swarm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTasks is returned when a user template defines no tasks.
	ErrNoTasks = errors.New("user defines no tasks")

	// ErrNoWaitTime is returned when a user template has no wait policy.
	ErrNoWaitTime = errors.New("user defines no wait time")
)

// User is the template every virtual user is instantiated from.
//
// A User holds no runtime state. The scheduler creates a VirtualUser per
// spawned user and each of those gets its own random source and client,
// so a single User value can back any number of concurrent users.
type User struct {
	// Name identifies the user class in logs and reports.
	Name string

	// Host is the base URL requests are resolved against.
	// It may be overridden by the run configuration.
	Host string

	// WaitTime produces the think time applied after every task.
	WaitTime WaitTime

	// Tasks are the weighted actions this user chooses from.
	Tasks []Task
}

// Validate checks the template can be instantiated.
func (u *User) Validate() error {
	if len(u.Tasks) == 0 {
		return ErrNoTasks
	}
	if u.WaitTime == nil {
		return ErrNoWaitTime
	}

	for i, t := range u.Tasks {
		if t.Fn == nil {
			return fmt.Errorf("task %d (%s): no function", i, t.Name)
		}
		if t.Weight <= 0 {
			return fmt.Errorf("task %d (%s): weight must be > 0, got %d", i, t.Name, t.Weight)
		}
	}
	return nil
}

// TotalWeight returns the sum of all task weights.
func (u *User) TotalWeight() int {
	total := 0
	for _, t := range u.Tasks {
		total += t.Weight
	}
	return total
}
