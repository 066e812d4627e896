// Package scenario holds the user classes the runner can be pointed at.
package scenario

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kheven/swarm/internal/swarm"
)

// Paths requested by LoadTestUser.
const (
	IndexPath = "/"
	SlowPath  = "/slow"
)

// Wait bounds of LoadTestUser.
const (
	MinWait = 500 * time.Millisecond
	MaxWait = 2 * time.Second
)

// LoadTestUser fetches the root page twice as often as the slow endpoint,
// thinking 0.5 to 2 seconds between requests.
func LoadTestUser() *swarm.User {
	return &swarm.User{
		Name:     "LoadTestUser",
		WaitTime: swarm.Between(MinWait, MaxWait),
		Tasks: []swarm.Task{
			swarm.HTTPTask("index", "GET", IndexPath, 2),
			swarm.HTTPTask("slow_endpoint", "GET", SlowPath, 1),
		},
	}
}

// Entry is a registered user class.
type Entry struct {
	Name        string
	Description string
	New         func() *swarm.User
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Entry{}
)

func init() {
	Register(Entry{
		Name:        "LoadTestUser",
		Description: "GET / (weight 2) and GET /slow (weight 1), waiting 0.5-2s",
		New:         LoadTestUser,
	})
}

// Register adds a user class. It panics on a duplicate name.
func Register(e Entry) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[e.Name]; dup {
		panic(fmt.Sprintf("scenario %q registered twice", e.Name))
	}
	registry[e.Name] = e
}

// Lookup returns a fresh user for the named class.
func Lookup(name string) (*swarm.User, error) {
	registryMu.RLock()
	e, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (available: %v)", name, Names())
	}
	return e.New(), nil
}

// List returns every registered class sorted by name.
func List() []Entry {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Entry, 0, len(registry))
	for _, e := range registry {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered class names sorted.
func Names() []string {
	entries := List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
