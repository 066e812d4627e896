package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/rate"
	"github.com/kheven/swarm/internal/swarm/runner"
)

func testResult() *runner.Result {
	return &runner.Result{
		ID:         "0b5c1f9e-8d0c-4f4e-9a51-3f0f2a7c6d11",
		Name:       "LoadTestUser",
		Host:       "http://localhost:8080",
		StartTime:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC),
		Duration:   10 * time.Second,
		StopReason: runner.StopIterations,
		Users:      2,
		Iterations: 30,
		Tasks: []runner.TaskResult{
			{Name: "index", Weight: 2, Count: 20, Share: 2.0 / 3.0, Expected: 2.0 / 3.0},
			{Name: "slow_endpoint", Weight: 1, Count: 10, Share: 1.0 / 3.0, Expected: 1.0 / 3.0},
		},
		Metrics: &metrics.Snapshot{
			TotalRequests:   30,
			SuccessRequests: 20,
			FailedRequests:  10,
			TotalBytes:      3000,
			ErrorRate:       1.0 / 3.0,
			RPS:             3,
			Latency: metrics.LatencyStats{
				Min: time.Millisecond, Max: 2 * time.Second, Mean: 667 * time.Millisecond,
				P50: 5 * time.Millisecond, P90: 2 * time.Second, P95: 2 * time.Second, P99: 2 * time.Second,
			},
		},
		Requests: []metrics.RequestStats{
			{Method: "GET", Name: "/", Requests: 20, Bytes: 2000, Latency: metrics.LatencyStats{P50: 5 * time.Millisecond, Max: 12500 * time.Microsecond}},
			{Method: "GET", Name: "/slow", Requests: 10, Failures: 10, Bytes: 1000, Latency: metrics.LatencyStats{P50: 2 * time.Second, Max: 2 * time.Second}},
		},
		Errors: []metrics.ErrorStats{
			{Method: "GET", Name: "/slow", Error: "HTTP 503: Service Unavailable", Occurrences: 10},
		},
		Passed: false,
		Thresholds: []runner.ThresholdResult{
			{Metric: "http_req_failed", Expression: "rate < 0.01", Passed: false, Value: "0.3333"},
		},
		RateLimit: &rate.Stats{Rate: 5, Granted: 30, WaitTime: 4 * time.Second},
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, testResult()))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "LoadTestUser", doc["name"])
	assert.Equal(t, runner.StopIterations, doc["stopReason"])
	assert.Equal(t, false, doc["passed"])
	assert.Len(t, doc["tasks"], 2)
	assert.Len(t, doc["requests"], 2)
	assert.Equal(t, map[string]interface{}{"rate": 5.0, "granted": 30.0, "waitTime": 4e9}, doc["rateLimit"])

	assert.Error(t, WriteJSON(&buf, nil))
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, WriteJSONFile(path, testResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"iterations": 30`)

	assert.Error(t, WriteJSONFile(filepath.Join(t.TempDir(), "missing", "result.json"), testResult()))
}

func TestWriteStatsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStatsCSV(&buf, testResult()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, statsHeader, rows[0])

	assert.Equal(t, []string{"GET", "/", "20", "0"}, rows[1][:4])
	assert.Equal(t, "5.00", rows[1][4], "median")
	assert.Equal(t, "100.00", rows[1][8], "average content size")
	assert.Equal(t, "2.000000", rows[1][9], "requests/s")
	assert.Equal(t, "12.50", rows[1][15], "max")

	assert.Equal(t, []string{"GET", "/slow", "10", "10"}, rows[2][:4])
	assert.Equal(t, "1.000000", rows[2][10], "failures/s")

	assert.Equal(t, []string{"", "Aggregated", "30", "10"}, rows[3][:4])
	assert.Equal(t, "667.00", rows[3][5], "average")
}

func TestWriteFailuresCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFailuresCSV(&buf, testResult()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Method", "Name", "Error", "Occurrences"},
		{"GET", "/slow", "HTTP 503: Service Unavailable", "10"},
	}, rows)
}

func TestWriteCSV(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run")
	require.NoError(t, WriteCSV(prefix, testResult()))

	for _, name := range []string{prefix + "_stats.csv", prefix + "_failures.csv"} {
		info, err := os.Stat(name)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	assert.Error(t, WriteCSV(prefix, nil))
}

func TestGenerateHTMLString(t *testing.T) {
	html, err := GenerateHTMLString(testResult())
	require.NoError(t, err)

	assert.Contains(t, html, "<title>LoadTestUser - Load Test Report</title>")
	assert.Contains(t, html, "FAILED")
	assert.Contains(t, html, "slow_endpoint")
	assert.Contains(t, html, "/slow")
	assert.Contains(t, html, "HTTP 503: Service Unavailable")
	assert.Contains(t, html, "rate &lt; 0.01")
	assert.Contains(t, html, "Generated by swarm")
	assert.Contains(t, html, "run 0b5c1f9e-8d0c-4f4e-9a51-3f0f2a7c6d11")

	_, err = GenerateHTMLString(nil)
	assert.Error(t, err)
}

func TestGenerateHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, GenerateHTML(testResult(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<!DOCTYPE html>")
}

func TestHTMLFormatters(t *testing.T) {
	assert.Equal(t, "0", formatLatency(0))
	assert.Equal(t, "250µs", formatLatency(250*time.Microsecond))
	assert.Equal(t, "1.50ms", formatLatency(1500*time.Microsecond))
	assert.Equal(t, "120ms", formatLatency(120*time.Millisecond))
	assert.Equal(t, "2.00s", formatLatency(2*time.Second))

	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.50 KB", formatBytes(1536))
	assert.Equal(t, "2.00 MB", formatBytes(2*1024*1024))

	assert.Equal(t, "2m", formatDuration(2*time.Minute))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 1m", formatDuration(time.Hour+time.Minute))

	assert.Equal(t, "33.3%", percent(1.0/3.0))
	assert.Equal(t, 0.0, successRate(nil))
	assert.InDelta(t, 2.0/3.0, successRate(testResult().Metrics), 1e-9)
}
