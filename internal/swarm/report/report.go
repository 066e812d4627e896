// Package report exports run results as JSON, CSV and HTML.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/runner"
)

// WriteJSON writes the full result document to w.
func WriteJSON(w io.Writer, result *runner.Result) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// WriteJSONFile writes the result document to path.
func WriteJSONFile(path string, result *runner.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSON(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var statsHeader = []string{
	"Type", "Name", "Request Count", "Failure Count",
	"Median Response Time", "Average Response Time",
	"Min Response Time", "Max Response Time",
	"Average Content Size", "Requests/s", "Failures/s",
	"50%", "90%", "95%", "99%", "100%",
}

var failuresHeader = []string{"Method", "Name", "Error", "Occurrences"}

// WriteCSV writes <prefix>_stats.csv and <prefix>_failures.csv.
func WriteCSV(prefix string, result *runner.Result) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if err := writeCSVFile(prefix+"_stats.csv", func(w io.Writer) error {
		return WriteStatsCSV(w, result)
	}); err != nil {
		return err
	}
	return writeCSVFile(prefix+"_failures.csv", func(w io.Writer) error {
		return WriteFailuresCSV(w, result)
	})
}

func writeCSVFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// WriteStatsCSV writes one row per request plus an Aggregated row.
// Times are in milliseconds.
func WriteStatsCSV(w io.Writer, result *runner.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(statsHeader); err != nil {
		return err
	}

	seconds := result.Duration.Seconds()
	for _, r := range result.Requests {
		row := statsRow(r.Method, r.Name, r.Requests, r.Failures, r.Bytes, r.Latency, seconds)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	if m := result.Metrics; m != nil {
		row := statsRow("", "Aggregated", m.TotalRequests, m.FailedRequests, m.TotalBytes, m.Latency, seconds)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func statsRow(method, name string, requests, failures, bytes int64, l metrics.LatencyStats, seconds float64) []string {
	var avgSize, rps, fps float64
	if requests > 0 {
		avgSize = float64(bytes) / float64(requests)
	}
	if seconds > 0 {
		rps = float64(requests) / seconds
		fps = float64(failures) / seconds
	}
	return []string{
		method,
		name,
		strconv.FormatInt(requests, 10),
		strconv.FormatInt(failures, 10),
		millis(l.P50),
		millis(l.Mean),
		millis(l.Min),
		millis(l.Max),
		strconv.FormatFloat(avgSize, 'f', 2, 64),
		strconv.FormatFloat(rps, 'f', 6, 64),
		strconv.FormatFloat(fps, 'f', 6, 64),
		millis(l.P50),
		millis(l.P90),
		millis(l.P95),
		millis(l.P99),
		millis(l.Max),
	}
}

// WriteFailuresCSV writes the grouped failures.
func WriteFailuresCSV(w io.Writer, result *runner.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(failuresHeader); err != nil {
		return err
	}
	for _, e := range result.Errors {
		if err := cw.Write([]string{e.Method, e.Name, e.Error, strconv.FormatInt(e.Occurrences, 10)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 2, 64)
}
