// Package config provides run configuration parsing and validation.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig is the root configuration for a run.
//
// Example YAML:
//
//	name: "LoadTestUser"
//	host: "http://localhost:8080"
//	users: 50
//	spawnRate: 5
//	runTime: 2m
//	waitTime:
//	  type: between
//	  min: 500ms
//	  max: 2s
//	tasks:
//	  - name: index
//	    path: /
//	    weight: 2
//	  - name: slow_endpoint
//	    path: /slow
//	    weight: 1
type RunConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Scenario selects a registered user class when Tasks is empty
	Scenario string `json:"scenario,omitempty" yaml:"scenario,omitempty"`

	// Host is the base URL of the system under test
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Users is the peak number of concurrent users
	Users int `json:"users,omitempty" yaml:"users,omitempty"`

	// SpawnRate is users started per second
	SpawnRate float64 `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`

	// RunTime stops the run after this long; zero runs until interrupted
	// or until Iterations complete
	RunTime Duration `json:"runTime,omitempty" yaml:"runTime,omitempty"`

	// Iterations stops the run after this many tasks across all users
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// Seed makes task selection and wait times reproducible
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// StopTimeout is how long running tasks may take to finish on stop
	StopTimeout Duration `json:"stopTimeout,omitempty" yaml:"stopTimeout,omitempty"`

	// WaitTime overrides the scenario's wait policy
	WaitTime *WaitTimeConfig `json:"waitTime,omitempty" yaml:"waitTime,omitempty"`

	// Tasks overrides the scenario's tasks
	Tasks []TaskConfig `json:"tasks,omitempty" yaml:"tasks,omitempty"`

	// Settings contains HTTP client settings
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Thresholds define pass/fail criteria
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// WaitTimeConfig selects a wait policy.
type WaitTimeConfig struct {
	// Type is "between", "constant" or "constant-pacing"
	Type string `json:"type" yaml:"type"`

	// Min and Max bound the "between" policy
	Min Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max Duration `json:"max,omitempty" yaml:"max,omitempty"`

	// Duration is used by "constant" and "constant-pacing"
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Wait policy types.
const (
	WaitBetween        = "between"
	WaitConstant       = "constant"
	WaitConstantPacing = "constant-pacing"
)

// TaskConfig defines one weighted request task.
type TaskConfig struct {
	// Name for logs; defaults to the path
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method defaults to GET
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Path is resolved against the host
	Path string `json:"path" yaml:"path"`

	// Weight defaults to 1
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Settings contains HTTP client settings.
type Settings struct {
	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// MaxRPS caps requests per second across all users; 0 is unlimited
	MaxRPS float64 `json:"maxRPS,omitempty" yaml:"maxRPS,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run.
type ThresholdsConfig struct {
	// HTTPReqDuration thresholds, e.g. ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds, e.g. ["rate < 0.01"]
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds, e.g. ["count > 1000", "rate > 100"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Requests holds thresholds for single request names, e.g.
	// {"/slow": ["p95 < 3s", "fail_ratio < 0.05"]}
	Requests map[string][]string `json:"requests,omitempty" yaml:"requests,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
// Plain numbers are read as seconds, so "0.5" and 0.5 both mean 500ms.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("invalid duration %s", string(b))
		}
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}

	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
