// Package metrics aggregates request statistics for a run using HDR histograms.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects and aggregates request metrics.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Totals use atomic counters; the
// histograms and per-request tables are mutex protected because HDR
// histogram RecordValue is not thread-safe.
type Engine struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	// Per method+name statistics
	entries   map[entryKey]*entry
	entriesMu sync.Mutex

	// Grouped failures
	errors   map[errorKey]int64
	errorsMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	activeUsers atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startMu   sync.RWMutex
	startTime time.Time

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

type entryKey struct {
	method string
	name   string
}

type entry struct {
	hist     *hdrhistogram.Histogram
	requests int64
	failures int64
	bytes    int64
}

type errorKey struct {
	method string
	name   string
	err    string
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		entries:      make(map[entryKey]*entry),
		errors:       make(map[errorKey]int64),
		currentPhase: PhaseInit,
		phaseHistory: make([]PhaseChange, 0),
		startTime:    time.Now(),
		config:       config,
	}
}

// Record records one completed request.
func (e *Engine) Record(s Sample) {
	latencyMicros := e.clamp(s.Duration.Microseconds())
	success := s.Err == nil

	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	e.recordEntry(s, latencyMicros, success)

	e.totalRequests.Add(1)
	e.totalBytes.Add(s.Bytes)
	if success {
		e.successRequests.Add(1)
		return
	}

	e.failedRequests.Add(1)
	e.errorsMu.Lock()
	e.errors[errorKey{method: s.Method, name: s.Name, err: s.Err.Error()}]++
	e.errorsMu.Unlock()
}

func (e *Engine) recordEntry(s Sample, latencyMicros int64, success bool) {
	e.entriesMu.Lock()
	defer e.entriesMu.Unlock()

	key := entryKey{method: s.Method, name: s.Name}
	ent, ok := e.entries[key]
	if !ok {
		ent = &entry{
			hist: hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs),
		}
		e.entries[key] = ent
	}

	ent.hist.RecordValue(latencyMicros)
	ent.requests++
	ent.bytes += s.Bytes
	if !success {
		ent.failures++
	}
}

func (e *Engine) clamp(v int64) int64 {
	if v < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return v
}

// SetPhase updates the current phase. Setting the same phase twice is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// SetActiveUsers updates the active user gauge.
func (e *Engine) SetActiveUsers(count int) {
	e.activeUsers.Store(int32(count))
}

// GetActiveUsers returns the active user gauge.
func (e *Engine) GetActiveUsers() int {
	return int(e.activeUsers.Load())
}

// GetSnapshot returns a point-in-time snapshot of the totals.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsFromHistogram(e.latencyHist)
	e.latencyHistMu.Unlock()

	start := e.getStartTime()
	elapsed := time.Since(start)
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	return &Snapshot{
		TotalRequests:   totalReqs,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failedReqs,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		ErrorRate:       errorRate,
		ActiveUsers:     e.GetActiveUsers(),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       start,
		Timestamp:       time.Now(),
	}
}

// GetRequestStats returns per-request statistics sorted by name then method.
func (e *Engine) GetRequestStats() []RequestStats {
	elapsed := time.Since(e.getStartTime()).Seconds()

	e.entriesMu.Lock()
	result := make([]RequestStats, 0, len(e.entries))
	for key, ent := range e.entries {
		rs := RequestStats{
			Method:   key.method,
			Name:     key.name,
			Requests: ent.requests,
			Failures: ent.failures,
			Bytes:    ent.bytes,
			Latency:  statsFromHistogram(ent.hist),
		}
		if elapsed > 0 {
			rs.RPS = float64(ent.requests) / elapsed
		}
		result = append(result, rs)
	}
	e.entriesMu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Method < result[j].Method
	})
	return result
}

// GetErrors returns grouped failures, most frequent first.
func (e *Engine) GetErrors() []ErrorStats {
	e.errorsMu.Lock()
	result := make([]ErrorStats, 0, len(e.errors))
	for key, n := range e.errors {
		result = append(result, ErrorStats{
			Method:      key.method,
			Name:        key.name,
			Error:       key.err,
			Occurrences: n,
		})
	}
	e.errorsMu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Occurrences != result[j].Occurrences {
			return result[i].Occurrences > result[j].Occurrences
		}
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Error < result[j].Error
	})
	return result
}

// Reset resets all metrics to initial state and restarts the clock.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.entriesMu.Lock()
	e.entries = make(map[entryKey]*entry)
	e.entriesMu.Unlock()

	e.errorsMu.Lock()
	e.errors = make(map[errorKey]int64)
	e.errorsMu.Unlock()

	e.totalRequests.Store(0)
	e.successRequests.Store(0)
	e.failedRequests.Store(0)
	e.totalBytes.Store(0)
	e.activeUsers.Store(0)

	e.phaseMu.Lock()
	e.currentPhase = PhaseInit
	e.phaseHistory = make([]PhaseChange, 0)
	e.phaseMu.Unlock()

	e.startMu.Lock()
	e.startTime = time.Now()
	e.startMu.Unlock()
}

func (e *Engine) getStartTime() time.Time {
	e.startMu.RLock()
	defer e.startMu.RUnlock()
	return e.startTime
}

func statsFromHistogram(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}
