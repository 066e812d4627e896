package config

import (
	"github.com/kheven/swarm/internal/swarm"
)

// BuildWaitTime converts the configured wait policy.
func BuildWaitTime(w *WaitTimeConfig) swarm.WaitTime {
	switch w.Type {
	case WaitConstant:
		return swarm.Constant(w.Duration.Std())
	case WaitConstantPacing:
		return swarm.ConstantPacing(w.Duration.Std())
	default:
		return swarm.Between(w.Min.Std(), w.Max.Std())
	}
}

// BuildTasks converts the configured tasks.
func BuildTasks(tasks []TaskConfig) []swarm.Task {
	out := make([]swarm.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, swarm.HTTPTask(t.Name, t.Method, t.Path, t.Weight))
	}
	return out
}

// Customize applies the config's overrides to a scenario user. base may be
// nil when the config defines its own tasks. The returned user is a copy.
func (c *RunConfig) Customize(base *swarm.User) *swarm.User {
	u := &swarm.User{Name: c.Name}
	if base != nil {
		*u = *base
	}
	if c.Host != "" {
		u.Host = c.Host
	}
	if len(c.Tasks) > 0 {
		u.Tasks = BuildTasks(c.Tasks)
	}
	if c.WaitTime != nil {
		u.WaitTime = BuildWaitTime(c.WaitTime)
	}
	if u.WaitTime == nil {
		u.WaitTime = swarm.Constant(0)
	}
	return u
}

// BuildUser builds a user from the config's own tasks and wait policy.
func (c *RunConfig) BuildUser() *swarm.User {
	return c.Customize(nil)
}

// SchedulerConfig returns the scheduler settings for this run.
func (c *RunConfig) SchedulerConfig() swarm.SchedulerConfig {
	httpConfig := swarm.DefaultHTTPClientConfig()
	httpConfig.Timeout = c.Settings.Timeout.GetDuration(DefaultTimeout)
	if c.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = c.Settings.MaxIdleConnsPerHost
	}
	httpConfig.MaxConnsPerHost = c.Settings.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = c.Settings.InsecureSkipVerify

	return swarm.SchedulerConfig{
		HTTP:      httpConfig,
		Host:      c.Host,
		Headers:   c.Settings.Headers,
		UserAgent: c.Settings.UserAgent,
		Seed:      c.Seed,
		MaxRPS:    c.Settings.MaxRPS,
	}
}
