package swarm

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/rate"
)

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UseSharedClient makes all users share one connection pool
	UseSharedClient bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UseSharedClient:     true,
	}
}

// SchedulerConfig configures how users are created.
type SchedulerConfig struct {
	HTTP HTTPClientConfig

	// Host overrides User.Host when set.
	Host string

	// Headers are sent with every request.
	Headers map[string]string

	// UserAgent is sent with every request when set.
	UserAgent string

	// Seed makes task selection and wait times reproducible.
	// Zero seeds every user from entropy.
	Seed uint64

	// MaxRPS caps requests per second across all users. Zero is unlimited.
	MaxRPS float64
}

// UserScheduler manages the lifecycle of virtual users.
type UserScheduler struct {
	user    *User
	metrics *metrics.Engine
	config  SchedulerConfig
	log     logrus.FieldLogger

	users   map[int]*VirtualUser
	usersMu sync.RWMutex
	nextID  atomic.Int32

	sharedClient *http.Client
	limiter      *rate.Limiter

	running sync.WaitGroup
}

// NewUserScheduler creates a scheduler for user.
func NewUserScheduler(user *User, metricsEngine *metrics.Engine, config SchedulerConfig, log logrus.FieldLogger) *UserScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &UserScheduler{
		user:    user,
		metrics: metricsEngine,
		config:  config,
		log:     log,
		users:   make(map[int]*VirtualUser),
		limiter: rate.NewLimiter(config.MaxRPS),
	}
	if config.HTTP.UseSharedClient {
		s.sharedClient = s.createHTTPClient()
	}
	return s
}

func (s *UserScheduler) createHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        s.config.HTTP.MaxIdleConns,
		MaxIdleConnsPerHost: s.config.HTTP.MaxIdleConnsPerHost,
		MaxConnsPerHost:     s.config.HTTP.MaxConnsPerHost,
		IdleConnTimeout:     s.config.HTTP.IdleConnTimeout,
	}
	if s.config.HTTP.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in flag
	}

	return &http.Client{
		Transport: transport,
		Timeout:   s.config.HTTP.Timeout,
	}
}

// Host returns the host users send requests to.
func (s *UserScheduler) Host() string {
	if s.config.Host != "" {
		return s.config.Host
	}
	return s.user.Host
}

// SpawnUser creates and registers a new virtual user without starting it.
func (s *UserScheduler) SpawnUser() *VirtualUser {
	id := int(s.nextID.Add(1))

	httpClient := s.sharedClient
	if httpClient == nil {
		httpClient = s.createHTTPClient()
	}

	client := &Client{
		HTTPClient: httpClient,
		Host:       s.Host(),
		Headers:    s.config.Headers,
		UserAgent:  s.config.UserAgent,
		Metrics:    s.metrics,
		Limiter:    s.limiter,
	}

	vu := NewVirtualUser(id, s.user, client, s.newRand(id), s.log)

	s.usersMu.Lock()
	s.users[id] = vu
	s.usersMu.Unlock()

	return vu
}

// newRand returns the random source for user id.
func (s *UserScheduler) newRand(id int) *rand.Rand {
	if s.config.Seed != 0 {
		return rand.New(rand.NewPCG(s.config.Seed, uint64(id)))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Start spawns a user and runs it on its own goroutine.
func (s *UserScheduler) Start(ctx context.Context, budget *IterationBudget) *VirtualUser {
	vu := s.SpawnUser()
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.RunUser(ctx, vu, budget)
	}()
	s.UpdateMetrics()
	return vu
}

// RunUser runs vu until it is stopped, ctx is cancelled, or budget is
// used up. A nil budget is unlimited.
func (s *UserScheduler) RunUser(ctx context.Context, vu *VirtualUser, budget *IterationBudget) {
	defer s.UpdateMetrics()
	defer vu.MarkStopped()

	vu.Log.Debug("user started")
	defer func() {
		vu.Log.WithField("iterations", vu.GetIteration()).Debug("user stopped")
	}()

	for {
		if !budget.Acquire() {
			return
		}

		taskTime, err := vu.RunTask(ctx)
		if err != nil {
			budget.Release()
			if !errors.Is(err, ErrUserStopped) && ctx.Err() == nil {
				vu.Log.WithError(err).Warn("user cannot continue")
			}
			return
		}
		budget.Complete()

		if err := vu.Wait(ctx, taskTime); err != nil {
			return
		}
	}
}

// GetActiveUsers returns all users that have not stopped, ordered by id.
func (s *UserScheduler) GetActiveUsers() []*VirtualUser {
	s.usersMu.RLock()
	result := make([]*VirtualUser, 0, len(s.users))
	for _, vu := range s.users {
		if vu.GetState() != VUStateStopped {
			result = append(result, vu)
		}
	}
	s.usersMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetActiveUserCount returns the count of users that have not stopped.
func (s *UserScheduler) GetActiveUserCount() int {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	count := 0
	for _, vu := range s.users {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// AllUsers returns every user spawned so far, ordered by id.
func (s *UserScheduler) AllUsers() []*VirtualUser {
	s.usersMu.RLock()
	result := make([]*VirtualUser, 0, len(s.users))
	for _, vu := range s.users {
		result = append(result, vu)
	}
	s.usersMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// StopUsers asks the n most recently spawned running users to stop.
func (s *UserScheduler) StopUsers(n int) int {
	active := s.GetActiveUsers()
	stopped := 0
	for i := len(active) - 1; i >= 0 && stopped < n; i-- {
		vu := active[i]
		if vu.GetState() == VUStateStopping {
			continue
		}
		vu.RequestStop()
		stopped++
	}
	return stopped
}

// StopAllUsers asks every user to stop.
func (s *UserScheduler) StopAllUsers() {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	for _, vu := range s.users {
		vu.RequestStop()
	}
}

// Wait blocks until every started user has returned or timeout elapses.
// Returns false on timeout.
func (s *UserScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	if timeout <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed once every started user has returned.
// Only call it after the last Start.
func (s *UserScheduler) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	return done
}

// TaskCounts sums task selections across all users, indexed like User.Tasks.
func (s *UserScheduler) TaskCounts() []int64 {
	totals := make([]int64, len(s.user.Tasks))
	for _, vu := range s.AllUsers() {
		for i, n := range vu.TaskCounts() {
			totals[i] += n
		}
	}
	return totals
}

// LimiterStats reports the shared request limiter. Zero when unlimited.
func (s *UserScheduler) LimiterStats() rate.Stats {
	return s.limiter.Stats()
}

// UpdateMetrics publishes the active user count.
func (s *UserScheduler) UpdateMetrics() {
	if s.metrics != nil {
		s.metrics.SetActiveUsers(s.GetActiveUserCount())
	}
}

// Close releases pooled connections.
func (s *UserScheduler) Close() {
	if s.sharedClient != nil {
		s.sharedClient.CloseIdleConnections()
	}
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	for _, vu := range s.users {
		if vu.Client.HTTPClient != s.sharedClient {
			vu.Client.HTTPClient.CloseIdleConnections()
		}
	}
}
