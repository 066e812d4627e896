package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/rate"
	"github.com/kheven/swarm/internal/swarm/runner"
)

func sampleResult() *runner.Result {
	return &runner.Result{
		Name:       "LoadTestUser",
		Host:       "http://localhost:8080",
		Duration:   90 * time.Second,
		StopReason: runner.StopRunTime,
		Users:      10,
		Iterations: 1234,
		Tasks: []runner.TaskResult{
			{Name: "index", Weight: 2, Count: 820, Share: 0.664, Expected: 2.0 / 3.0},
			{Name: "slow_endpoint", Weight: 1, Count: 414, Share: 0.336, Expected: 1.0 / 3.0},
		},
		Metrics: &metrics.Snapshot{
			TotalRequests:   1234,
			SuccessRequests: 1230,
			FailedRequests:  4,
			ErrorRate:       4.0 / 1234.0,
			RPS:             13.7,
			Latency:         metrics.LatencyStats{Mean: 700 * time.Millisecond, P95: 2 * time.Second},
		},
		Requests: []metrics.RequestStats{
			{Method: "GET", Name: "/", Requests: 820, RPS: 9.1},
			{Method: "GET", Name: "/slow", Requests: 414, Failures: 4, RPS: 4.6},
		},
		Errors: []metrics.ErrorStats{
			{Method: "GET", Name: "/slow", Error: "HTTP 503: Service Unavailable", Occurrences: 4},
		},
		Passed: false,
		Thresholds: []runner.ThresholdResult{
			{Metric: "http_req_failed", Expression: "rate < 0.001", Passed: false, Value: "0.0032"},
		},
		RateLimit: &rate.Stats{Rate: 15, Granted: 1234, WaitTime: 1500 * time.Millisecond},
	}
}

func newBufferedOutput(quiet bool) (*ConsoleOutput, *bytes.Buffer) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{
		TestName: "LoadTestUser",
		Host:     "http://localhost:8080",
		Writer:   &buf,
		Quiet:    quiet,
		NoColors: true,
	})
	return out, &buf
}

func TestConsoleOutput_NotTTYForBuffer(t *testing.T) {
	out, buf := newBufferedOutput(false)
	assert.False(t, out.IsTTY())

	out.Update(&LiveStats{CurrentPhase: "steady"})
	assert.Empty(t, buf.String(), "live redraw needs a terminal")
}

func TestConsoleOutput_PrintHeader(t *testing.T) {
	out, buf := newBufferedOutput(false)
	out.PrintHeader()

	assert.Contains(t, buf.String(), "LoadTestUser - Running")
	assert.Contains(t, buf.String(), "Host: http://localhost:8080")
}

func TestConsoleOutput_PrintSummary(t *testing.T) {
	out, buf := newBufferedOutput(false)
	out.PrintSummary(sampleResult())

	s := buf.String()
	assert.Contains(t, s, "LoadTestUser - Failed ✗")
	assert.Contains(t, s, "Duration:      1m 30s (run time reached)")
	assert.Contains(t, s, "Iterations:    1,234")
	assert.Contains(t, s, "Success Rate:  99.7%")
	assert.Contains(t, s, "Rate Limit:    15 req/s (waited 1.5s in total)")
	assert.Contains(t, s, "Task Mix:")
	assert.Contains(t, s, "slow_endpoint")
	assert.Contains(t, s, "66.7%")
	assert.Contains(t, s, "Aggregated")
	assert.Contains(t, s, "HTTP 503: Service Unavailable")
	assert.Contains(t, s, "✗ http_req_failed rate < 0.001 (actual: 0.0032)")
	assert.NotContains(t, s, "\033[", "no escape codes without colors")
}

func TestConsoleOutput_PrintSummaryQuiet(t *testing.T) {
	out, buf := newBufferedOutput(true)
	out.PrintHeader()
	out.PrintNonInteractiveUpdate(&LiveStats{})
	out.PrintSummary(sampleResult())
	assert.Equal(t, "FAILED\n", buf.String())

	buf.Reset()
	r := sampleResult()
	r.Passed = true
	out.PrintSummary(r)
	assert.Equal(t, "PASSED\n", buf.String())

	buf.Reset()
	out.PrintSummary(nil)
	assert.Empty(t, buf.String())
}

func TestConsoleOutput_PrintNonInteractiveUpdate(t *testing.T) {
	out, buf := newBufferedOutput(false)
	out.PrintNonInteractiveUpdate(&LiveStats{
		Elapsed:       5 * time.Second,
		CurrentPhase:  "ramp-up",
		ActiveUsers:   3,
		TotalRequests: 42,
		CurrentRPS:    8.4,
		Errors:        1,
		ErrorRate:     1.0 / 42.0,
		LatencyP95:    150 * time.Millisecond,
	})

	assert.Equal(t, "[5.0s] ramp-up | Users: 3 | Reqs: 42 | RPS: 8.4 | Fails: 1 (2.4%) | P95: 150ms\n", buf.String())
}

func TestConsoleOutput_UpdateRedrawsOnTTY(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceTTY: true, NoColors: true})

	out.Update(&LiveStats{Progress: 0.5, CurrentPhase: "steady"})
	first := buf.String()
	assert.Contains(t, first, "Phase:    steady")
	assert.Contains(t, first, "50%")
	assert.NotContains(t, first, "\033[4A")

	out.Update(&LiveStats{Progress: 0.75, CurrentPhase: "steady"})
	assert.Contains(t, strings.TrimPrefix(buf.String(), first), "\033[4A")
}

func TestStatsFromMetrics(t *testing.T) {
	s := StatsFromMetrics(nil, 0, time.Minute, 10)
	assert.Equal(t, "initializing", s.CurrentPhase)
	assert.Equal(t, 10, s.TargetUsers)

	snap := &metrics.Snapshot{
		Elapsed:        20 * time.Second,
		TotalRequests:  100,
		FailedRequests: 5,
		ErrorRate:      0.05,
		ActiveUsers:    4,
		CurrentPhase:   metrics.PhaseSteady,
		Latency:        metrics.LatencyStats{P95: time.Second},
	}

	s = StatsFromMetrics(snap, 0.33, time.Minute, 10)
	assert.Equal(t, 40*time.Second, s.Remaining)
	assert.Equal(t, int64(5), s.Errors)
	assert.Equal(t, "steady", s.CurrentPhase)

	s = StatsFromMetrics(snap, 0.5, 0, 10)
	assert.Equal(t, 20*time.Second, s.Remaining)

	snap.Elapsed = 2 * time.Minute
	s = StatsFromMetrics(snap, 1, time.Minute, 10)
	assert.Equal(t, time.Duration(0), s.Remaining)
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "[░░░░]", renderProgressBar(-1, 4))
	assert.Equal(t, "[██░░]", renderProgressBar(0.5, 4))
	assert.Equal(t, "[████]", renderProgressBar(3, 4))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 05s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 01m 01s", formatDuration(time.Hour+time.Minute+time.Second))
}

func TestFormatDurationShort(t *testing.T) {
	assert.Equal(t, "0ms", formatDurationShort(0))
	assert.Equal(t, "500µs", formatDurationShort(500*time.Microsecond))
	assert.Equal(t, "12ms", formatDurationShort(12*time.Millisecond))
	assert.Equal(t, "2.00s", formatDurationShort(2*time.Second))
	assert.Equal(t, "1.5m", formatDurationShort(90*time.Second))
}

func TestFormatNumber(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234:    "-1,234",
		-999:     "-999",
		100000:   "100,000",
		12345678: "12,345,678",
	}
	for n, want := range tests {
		assert.Equal(t, want, formatNumber(n), "%d", n)
	}
}
