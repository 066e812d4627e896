package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvHost        = "SWARM_HOST"
	EnvUsers       = "SWARM_USERS"
	EnvSpawnRate   = "SWARM_SPAWN_RATE"
	EnvRunTime     = "SWARM_RUN_TIME"
	EnvIterations  = "SWARM_ITERATIONS"
	EnvSeed        = "SWARM_SEED"
	EnvStopTimeout = "SWARM_STOP_TIMEOUT"
	EnvMaxRPS      = "SWARM_MAX_RPS"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultName      = "swarm"
	DefaultScenario  = "LoadTestUser"
	DefaultUsers     = 1
	DefaultSpawnRate = 1.0
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "swarm/0.1"
)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. The format is picked from the
// extension of path and defaults to YAML.
func ParseConfig(data []byte, path string) (*RunConfig, error) {
	var cfg RunConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			if len(bytes.TrimSpace(data)) == 0 {
				return &cfg, nil
			}
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *RunConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseDurationString parses a duration string.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as a number: "30", "0.5"
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *RunConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Scenario == "" && len(cfg.Tasks) == 0 {
		cfg.Scenario = DefaultScenario
	}
	if cfg.Users == 0 {
		cfg.Users = DefaultUsers
	}
	if cfg.SpawnRate == 0 {
		cfg.SpawnRate = DefaultSpawnRate
	}
	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Settings.UserAgent == "" {
		cfg.Settings.UserAgent = DefaultUserAgent
	}
	for i := range cfg.Tasks {
		t := &cfg.Tasks[i]
		if t.Method == "" {
			t.Method = "GET"
		}
		t.Method = strings.ToUpper(t.Method)
		if t.Weight == 0 {
			t.Weight = 1
		}
		if t.Name == "" {
			t.Name = t.Path
		}
	}
}

// ApplyEnv overlays values from the environment. lookup is usually
// os.LookupEnv.
func ApplyEnv(cfg *RunConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHost); ok && v != "" {
		cfg.Host = v
	}
	if v, ok := lookup(EnvUsers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUsers, err)
		}
		cfg.Users = n
	}
	if v, ok := lookup(EnvSpawnRate); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSpawnRate, err)
		}
		cfg.SpawnRate = f
	}
	if v, ok := lookup(EnvRunTime); ok && v != "" {
		d, err := ParseDurationString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRunTime, err)
		}
		cfg.RunTime = Duration(d)
	}
	if v, ok := lookup(EnvIterations); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIterations, err)
		}
		cfg.Iterations = n
	}
	if v, ok := lookup(EnvSeed); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}
		cfg.Seed = n
	}
	if v, ok := lookup(EnvStopTimeout); ok && v != "" {
		d, err := ParseDurationString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStopTimeout, err)
		}
		cfg.StopTimeout = Duration(d)
	}
	if v, ok := lookup(EnvMaxRPS); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRPS, err)
		}
		cfg.Settings.MaxRPS = f
	}
	return nil
}
