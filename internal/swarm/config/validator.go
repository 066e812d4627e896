package config

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// MaxSpawnRate is the fastest accepted spawnRate, in users per second.
const MaxSpawnRate = 1e6

// Threshold metrics accepted by each thresholds group.
var (
	LatencyMetrics = []string{"min", "max", "avg", "med", "p50", "p90", "p95", "p99"}
	RequestMetrics = append(append([]string{}, LatencyMetrics...), "fail_ratio", "count", "rps")
)

// Threshold is one parsed expression such as "p95 < 500ms".
type Threshold struct {
	Metric string
	Op     string
	Value  string
}

var thresholdOps = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true,
	"==": true, "=": true, "!=": true, "<>": true,
}

// ParseThreshold splits expr into metric, operator and value.
func ParseThreshold(expr string) (Threshold, error) {
	m := thresholdExpr.FindStringSubmatch(strings.TrimSpace(expr))
	if len(m) != 4 {
		return Threshold{}, fmt.Errorf("invalid expression: %q", expr)
	}
	if !thresholdOps[m[2]] {
		return Threshold{}, fmt.Errorf("unknown operator %q in %q", m[2], expr)
	}
	return Threshold{Metric: m[1], Op: m[2], Value: strings.TrimSpace(m[3])}, nil
}

var (
	thresholdExpr = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)
	validMethods  = map[string]bool{
		http.MethodGet:     true,
		http.MethodHead:    true,
		http.MethodPost:    true,
		http.MethodPut:     true,
		http.MethodPatch:   true,
		http.MethodDelete:  true,
		http.MethodOptions: true,
	}
)

// Validate validates the configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.Host == "" {
		errs.Add("host", "host is required (use --host or "+EnvHost+")")
	} else if u, err := url.Parse(c.Host); err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add("host", fmt.Sprintf("invalid URL: %s", c.Host))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("host", fmt.Sprintf("unsupported scheme: %s", u.Scheme))
	}

	if c.Users < 0 {
		errs.Add("users", "users must be >= 0")
	}
	switch {
	case math.IsNaN(c.SpawnRate) || c.SpawnRate < 0:
		errs.Add("spawnRate", "spawnRate must be >= 0")
	case c.SpawnRate > MaxSpawnRate:
		errs.Add("spawnRate", fmt.Sprintf("spawnRate must be <= %g", float64(MaxSpawnRate)))
	}
	if c.RunTime < 0 {
		errs.Add("runTime", "runTime must be >= 0")
	}
	if c.Iterations < 0 {
		errs.Add("iterations", "iterations must be >= 0")
	}
	if c.StopTimeout < 0 {
		errs.Add("stopTimeout", "stopTimeout must be >= 0")
	}

	if c.WaitTime != nil {
		validateWaitTime(c.WaitTime, errs)
	}

	if len(c.Tasks) == 0 && c.Scenario == "" {
		errs.Add("tasks", "either tasks or scenario is required")
	}
	for i, t := range c.Tasks {
		validateTask(fmt.Sprintf("tasks[%d]", i), &t, errs)
	}

	validateSettings(&c.Settings, errs)

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateWaitTime(w *WaitTimeConfig, errs *ValidationErrors) {
	switch w.Type {
	case WaitBetween:
		if w.Min < 0 {
			errs.Add("waitTime.min", "min must be >= 0")
		}
		if w.Max < w.Min {
			errs.Add("waitTime.max", "max must be >= min")
		}
	case WaitConstant, WaitConstantPacing:
		if w.Duration < 0 {
			errs.Add("waitTime.duration", "duration must be >= 0")
		}
	case "":
		errs.Add("waitTime.type", "wait time type is required")
	default:
		errs.Add("waitTime.type", fmt.Sprintf("unknown wait time type: %s", w.Type))
	}
}

func validateTask(prefix string, t *TaskConfig, errs *ValidationErrors) {
	if t.Path == "" {
		errs.Add(prefix+".path", "path is required")
	}
	if t.Weight < 0 {
		errs.Add(prefix+".weight", "weight must be > 0")
	}
	if t.Method != "" && !validMethods[strings.ToUpper(t.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("unsupported method: %s", t.Method))
	}
}

func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout must be >= 0")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "must be >= 0")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "must be >= 0")
	}
	switch {
	case math.IsNaN(s.MaxRPS) || s.MaxRPS < 0:
		errs.Add("settings.maxRPS", "must be >= 0")
	case math.IsInf(s.MaxRPS, 1):
		errs.Add("settings.maxRPS", "must be finite (use 0 for unlimited)")
	}
}

func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	check := func(field string, exprs []string, metrics []string) {
		for i, expr := range exprs {
			th, err := ParseThreshold(expr)
			if err != nil {
				errs.Add(fmt.Sprintf("%s[%d]", field, i), err.Error())
				continue
			}
			if !contains(metrics, th.Metric) {
				errs.Add(fmt.Sprintf("%s[%d]", field, i), fmt.Sprintf("unsupported metric %q", th.Metric))
			}
		}
	}

	check("thresholds.http_req_duration", t.HTTPReqDuration, LatencyMetrics)
	check("thresholds.http_req_failed", t.HTTPReqFailed, []string{"rate"})
	check("thresholds.http_reqs", t.HTTPReqs, []string{"count", "rate"})

	names := make([]string, 0, len(t.Requests))
	for name := range t.Requests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check(fmt.Sprintf("thresholds.requests[%s]", name), t.Requests[name], RequestMetrics)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
