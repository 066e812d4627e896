// Package runner orchestrates a run: it spawns users at the configured
// rate, decides when the run ends, and assembles the result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kheven/swarm/internal/swarm"
	"github.com/kheven/swarm/internal/swarm/config"
	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/rate"
)

// Reasons a run ended.
const (
	StopRunTime     = "run time reached"
	StopIterations  = "iteration limit reached"
	StopInterrupted = "interrupted"
	StopRequested   = "stop requested"
	StopUsersDone   = "all users finished"
)

// forcedStopGrace bounds the wait for users after their tasks were cancelled.
const forcedStopGrace = 5 * time.Second

// Runner executes one user class against a host.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("swarm.yaml")
//	r, _ := runner.NewRunner(cfg, scenario.LoadTestUser(), log)
//	result, _ := r.Run(context.Background())
//	fmt.Printf("passed: %v\n", result.Passed)
type Runner struct {
	config *config.RunConfig
	user   *swarm.User
	log    logrus.FieldLogger

	mu            sync.RWMutex
	metricsEngine *metrics.Engine
	scheduler     *swarm.UserScheduler
	budget        *swarm.IterationBudget
	runID         string
	startTime     time.Time
	running       bool
	spawned       int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Result contains the outcome of a run.
type Result struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Host        string        `json:"host"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`
	StopReason  string        `json:"stopReason"`

	Users      int                    `json:"users"`
	Iterations int64                  `json:"iterations"`
	Tasks      []TaskResult           `json:"tasks"`
	Metrics    *metrics.Snapshot      `json:"metrics"`
	Requests   []metrics.RequestStats `json:"requests"`
	Errors     []metrics.ErrorStats   `json:"errors,omitempty"`
	Phases     []metrics.PhaseChange  `json:"phases,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// RateLimit is set when settings.maxRPS capped the run.
	RateLimit *rate.Stats `json:"rateLimit,omitempty"`
}

// TaskResult reports how often a task was selected.
type TaskResult struct {
	Name     string  `json:"name"`
	Weight   int     `json:"weight"`
	Count    int64   `json:"count"`
	Share    float64 `json:"share"`
	Expected float64 `json:"expected"`
}

// NewRunner validates cfg and user and returns a runner for them.
// The user should already carry the config's overrides (see
// config.RunConfig.Customize).
func NewRunner(cfg *config.RunConfig, user *swarm.User, log logrus.FieldLogger) (*Runner, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Host == "" {
		cfg.Host = user.Host
	}
	config.ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("invalid user %s: %w", user.Name, err)
	}

	return &Runner{
		config: cfg,
		user:   user,
		log:    log.WithField("run", cfg.Name),
		stopCh: make(chan struct{}),
	}, nil
}

// Run executes the run and blocks until it ends.
//
// The run ends when RunTime elapses, Iterations tasks have completed,
// every user has exited, Stop is called, or ctx is cancelled. Users are
// then asked to stop and given StopTimeout to finish their current task
// before it is cancelled.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, errors.New("runner is already running")
	}
	r.running = true
	r.runID = uuid.New().String()
	r.startTime = time.Now()
	r.metricsEngine = metrics.NewEngine()
	r.budget = swarm.NewIterationBudget(r.config.Iterations)
	r.spawned = 0
	log := r.log.WithField("run_id", r.runID)
	r.scheduler = swarm.NewUserScheduler(r.user, r.metricsEngine, r.config.SchedulerConfig(), log)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	log.WithFields(logrus.Fields{
		"host":       r.config.Host,
		"users":      r.config.Users,
		"spawnRate":  r.config.SpawnRate,
		"runTime":    r.config.RunTime.String(),
		"iterations": r.config.Iterations,
	}).Info("starting run")

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	var deadline <-chan time.Time
	if r.config.RunTime > 0 {
		timer := time.NewTimer(r.config.RunTime.Std())
		defer timer.Stop()
		deadline = timer.C
	}

	stopSpawning := make(chan struct{})
	spawnDone := make(chan struct{})
	go func() {
		defer close(spawnDone)
		r.spawn(taskCtx, stopSpawning)
	}()

	usersDone := make(chan struct{})
	go func() {
		<-spawnDone
		<-r.scheduler.Done()
		close(usersDone)
	}()

	var reason string
	select {
	case <-ctx.Done():
		reason = StopInterrupted
	case <-deadline:
		reason = StopRunTime
	case <-r.budget.Done():
		reason = StopIterations
	case <-r.stopCh:
		reason = StopRequested
	case <-usersDone:
		reason = StopUsersDone
	}
	log.WithField("reason", reason).Info("stopping run")

	close(stopSpawning)
	<-spawnDone

	r.metricsEngine.SetPhase(metrics.PhaseStopping)
	r.scheduler.StopAllUsers()
	if !r.scheduler.Wait(r.config.StopTimeout.Std()) {
		cancelTasks()
		if !r.scheduler.Wait(forcedStopGrace) {
			log.Warn("users did not stop in time")
		}
	}
	r.scheduler.Close()
	r.metricsEngine.SetPhase(metrics.PhaseDone)

	result := r.buildResult(reason)

	var err error
	if reason == StopInterrupted {
		err = ctx.Err()
	}
	return result, err
}

// spawn starts users at SpawnRate until Users are running or stop closes.
func (r *Runner) spawn(ctx context.Context, stop <-chan struct{}) {
	target := r.config.Users
	if target == 0 {
		r.metricsEngine.SetPhase(metrics.PhaseSteady)
		return
	}

	r.metricsEngine.SetPhase(metrics.PhaseRampUp)

	// A rate so fast the interval rounds to zero starts everyone at once.
	var tick <-chan time.Time
	if interval := time.Duration(float64(time.Second) / r.config.SpawnRate); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		r.scheduler.Start(ctx, r.budget)

		r.mu.Lock()
		r.spawned++
		n := r.spawned
		r.mu.Unlock()

		if n >= target {
			r.log.WithField("users", n).Info("all users spawned")
			r.metricsEngine.SetPhase(metrics.PhaseSteady)
			return
		}

		if tick == nil {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-tick:
		}
	}
}

func (r *Runner) buildResult(reason string) *Result {
	snapshot := r.metricsEngine.GetSnapshot()

	counts := r.scheduler.TaskCounts()
	var iterations int64
	for _, n := range counts {
		iterations += n
	}

	picker := swarm.NewTaskPicker(r.user.Tasks)
	tasks := make([]TaskResult, len(r.user.Tasks))
	for i, t := range r.user.Tasks {
		tasks[i] = TaskResult{
			Name:     t.Name,
			Weight:   t.Weight,
			Count:    counts[i],
			Expected: picker.Probability(i),
		}
		if iterations > 0 {
			tasks[i].Share = float64(counts[i]) / float64(iterations)
		}
	}

	requests := r.metricsEngine.GetRequestStats()
	thresholds := EvaluateThresholds(r.config.Thresholds, snapshot, requests)
	passed := true
	for _, t := range thresholds {
		if !t.Passed {
			passed = false
			break
		}
	}

	var rateLimit *rate.Stats
	if stats := r.scheduler.LimiterStats(); stats.Rate > 0 {
		rateLimit = &stats
	}

	end := time.Now()
	return &Result{
		ID:          r.runID,
		Name:        r.config.Name,
		Description: r.config.Description,
		Host:        r.config.Host,
		StartTime:   r.startTime,
		EndTime:     end,
		Duration:    end.Sub(r.startTime),
		StopReason:  reason,
		Users:       r.Spawned(),
		Iterations:  iterations,
		Tasks:       tasks,
		Metrics:     snapshot,
		Requests:    requests,
		Errors:      r.metricsEngine.GetErrors(),
		Phases:      r.metricsEngine.GetPhaseHistory(),
		Passed:      passed,
		Thresholds:  thresholds,
		RateLimit:   rateLimit,
	}
}

// Stop ends a running run early. It is safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// IsRunning returns true while Run is executing.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Spawned returns how many users have been started.
func (r *Runner) Spawned() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.spawned
}

// Config returns the effective configuration.
func (r *Runner) Config() *config.RunConfig {
	return r.config
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (r *Runner) GetMetrics() *metrics.Snapshot {
	r.mu.RLock()
	m := r.metricsEngine
	r.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

// GetProgress returns progress from 0.0 to 1.0 against the run time or,
// failing that, the iteration limit. Open-ended runs report 0.
func (r *Runner) GetProgress() float64 {
	r.mu.RLock()
	start := r.startTime
	running := r.running
	budget := r.budget
	r.mu.RUnlock()

	if start.IsZero() {
		return 0
	}
	if !running {
		return 1
	}

	var progress float64
	switch {
	case r.config.RunTime > 0:
		progress = float64(time.Since(start)) / float64(r.config.RunTime)
	case budget != nil:
		progress = float64(budget.Completed()) / float64(budget.Limit())
	}
	if progress > 1 {
		progress = 1
	}
	return progress
}
