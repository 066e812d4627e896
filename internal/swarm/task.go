package swarm

import (
	"context"
	"math/rand/v2"
	"sort"
)

// TaskFunc is the body of a task. It runs on the virtual user's goroutine
// and should issue its requests through u.Client so they are recorded.
type TaskFunc func(ctx context.Context, u *VirtualUser) error

// Task is one weighted action a user can perform.
type Task struct {
	// Name is used in logs; request statistics are keyed by method and path.
	Name string

	// Weight is the relative selection frequency. Must be > 0.
	Weight int

	// Fn performs the action.
	Fn TaskFunc
}

// HTTPTask returns a task that issues a single request with no body.
func HTTPTask(name, method, path string, weight int) Task {
	return Task{
		Name:   name,
		Weight: weight,
		Fn: func(ctx context.Context, u *VirtualUser) error {
			_, err := u.Client.Do(ctx, method, path, nil)
			return err
		},
	}
}

// TaskPicker selects tasks with probability proportional to their weight.
//
// It keeps a cumulative weight table so a pick is one random draw and a
// binary search.
type TaskPicker struct {
	tasks      []Task
	cumulative []int
	total      int
}

// NewTaskPicker builds a picker over tasks. Tasks with a non-positive
// weight are never picked.
func NewTaskPicker(tasks []Task) *TaskPicker {
	p := &TaskPicker{
		tasks:      tasks,
		cumulative: make([]int, len(tasks)),
	}
	for i, t := range tasks {
		if t.Weight > 0 {
			p.total += t.Weight
		}
		p.cumulative[i] = p.total
	}
	return p
}

// Pick returns the index of the selected task, or -1 if no task has a
// positive weight.
func (p *TaskPicker) Pick(rng *rand.Rand) int {
	if p.total == 0 {
		return -1
	}
	n := rng.IntN(p.total)
	return sort.Search(len(p.cumulative), func(i int) bool {
		return p.cumulative[i] > n
	})
}

// Task returns the task at index i.
func (p *TaskPicker) Task(i int) Task {
	return p.tasks[i]
}

// Len returns the number of tasks.
func (p *TaskPicker) Len() int {
	return len(p.tasks)
}

// Probability returns the selection probability of task i.
func (p *TaskPicker) Probability(i int) float64 {
	if p.total == 0 || p.tasks[i].Weight <= 0 {
		return 0
	}
	return float64(p.tasks[i].Weight) / float64(p.total)
}
