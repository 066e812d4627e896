package metrics

import "time"

// Phase represents a phase of the run.
type Phase string

const (
	// PhaseInit is before any user has been spawned.
	PhaseInit Phase = "init"

	// PhaseRampUp is while users are being spawned at the spawn rate.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is once every user is running.
	PhaseSteady Phase = "steady"

	// PhaseStopping is while users are being asked to stop.
	PhaseStopping Phase = "stopping"

	// PhaseDone indicates the run has completed.
	PhaseDone Phase = "done"
)

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// Sample is a single completed request.
type Sample struct {
	// Method is the HTTP method, reported as the request type.
	Method string

	// Name groups samples in the statistics, usually the request path.
	Name string

	Duration time.Duration
	Bytes    int64

	// Err is nil for a successful request.
	Err error
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveUsers     int           `json:"activeUsers"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// RequestStats are the statistics for one method and name pair.
type RequestStats struct {
	Method   string       `json:"method"`
	Name     string       `json:"name"`
	Requests int64        `json:"requests"`
	Failures int64        `json:"failures"`
	Bytes    int64        `json:"bytes"`
	RPS      float64      `json:"rps"`
	Latency  LatencyStats `json:"latency"`
}

// FailureRate returns failures / requests.
func (r RequestStats) FailureRate() float64 {
	if r.Requests == 0 {
		return 0
	}
	return float64(r.Failures) / float64(r.Requests)
}

// ErrorStats groups identical failures of one request.
type ErrorStats struct {
	Method      string `json:"method"`
	Name        string `json:"name"`
	Error       string `json:"error"`
	Occurrences int64  `json:"occurrences"`
}
