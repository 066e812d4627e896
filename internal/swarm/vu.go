package swarm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// VUState represents the lifecycle state of a virtual user.
type VUState int32

const (
	// VUStateIdle indicates the user is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the user is running a task or waiting after one.
	VUStateRunning
	// VUStateStopping indicates the user has been asked to stop.
	VUStateStopping
	// VUStateStopped indicates the user has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrUserStopped is returned by RunIteration once the user was asked to stop.
var ErrUserStopped = errors.New("user stopped")

// VirtualUser is one running instance of a User template.
//
// A VirtualUser is driven by a single goroutine. Its random source is
// private, which keeps task choice and wait times uncorrelated across
// users. State, stop and iteration count may be read from any goroutine.
type VirtualUser struct {
	ID     int
	User   *User
	Client *Client
	Log    logrus.FieldLogger

	rng    *rand.Rand
	picker *TaskPicker

	state     atomic.Int32
	iteration atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once

	counts []atomic.Int64
}

// NewVirtualUser creates a virtual user. rng must not be shared with
// another user.
func NewVirtualUser(id int, user *User, client *Client, rng *rand.Rand, log logrus.FieldLogger) *VirtualUser {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VirtualUser{
		ID:     id,
		User:   user,
		Client: client,
		Log:    log.WithField("user", id),
		rng:    rng,
		picker: NewTaskPicker(user.Tasks),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		counts: make([]atomic.Int64, len(user.Tasks)),
	}
}

// GetState returns the current state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns how many iterations have started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// TaskCounts returns how many times each task was selected, indexed like User.Tasks.
func (vu *VirtualUser) TaskCounts() []int64 {
	out := make([]int64, len(vu.counts))
	for i := range vu.counts {
		out[i] = vu.counts[i].Load()
	}
	return out
}

// RunIteration selects one task by weight, runs it, then sleeps for the
// user's wait time.
//
// A failing task does not fail the iteration; its requests have already
// been recorded by the client. The wait is cut short by RequestStop or
// ctx. Returns ErrUserStopped or the context error when the user should
// not continue.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	taskTime, err := vu.RunTask(ctx)
	if err != nil {
		return err
	}
	return vu.Wait(ctx, taskTime)
}

// RunTask selects one task by weight and runs it. It returns how long the
// task took.
func (vu *VirtualUser) RunTask(ctx context.Context) (time.Duration, error) {
	switch vu.GetState() {
	case VUStateStopping, VUStateStopped:
		return 0, ErrUserStopped
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	vu.iteration.Add(1)

	idx := vu.picker.Pick(vu.rng)
	if idx < 0 {
		return 0, ErrNoTasks
	}
	task := vu.picker.Task(idx)
	vu.counts[idx].Add(1)

	start := time.Now()
	if err := task.Fn(ctx, vu); err != nil && ctx.Err() == nil {
		vu.Log.WithError(err).WithField("task", task.Name).Debug("task failed")
	}
	return time.Since(start), nil
}

// Wait applies the user's wait time after a task that took taskTime.
func (vu *VirtualUser) Wait(ctx context.Context, taskTime time.Duration) error {
	if !vu.wait(ctx, vu.User.WaitTime(vu.rng, taskTime)) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrUserStopped
	}

	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return nil
}

// wait sleeps for d. Returns false if interrupted.
func (vu *VirtualUser) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-vu.stopCh:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop asks the user to stop. A running task is allowed to finish;
// a pending wait ends immediately.
func (vu *VirtualUser) RequestStop() {
	for {
		cur := vu.state.Load()
		if VUState(cur) == VUStateStopped || VUState(cur) == VUStateStopping {
			break
		}
		if vu.state.CompareAndSwap(cur, int32(VUStateStopping)) {
			break
		}
	}
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// WaitForStop waits for the user to stop.
// Returns true if it stopped within the timeout.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the user as fully stopped.
// Called by the goroutine driving the user when it exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}

// Done is closed once the user has stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

func (vu *VirtualUser) String() string {
	return fmt.Sprintf("%s#%d", vu.User.Name, vu.ID)
}
