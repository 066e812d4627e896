package runner

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kheven/swarm/internal/swarm/config"
	"github.com/kheven/swarm/internal/swarm/metrics"
)

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Name       string `json:"name,omitempty"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// view is what a threshold is checked against: the whole run or the
// requests sharing one name.
type view struct {
	latency   metrics.LatencyStats
	requests  int64
	failRatio float64
	rps       float64
}

func runView(s *metrics.Snapshot) view {
	return view{latency: s.Latency, requests: s.TotalRequests, failRatio: s.ErrorRate, rps: s.RPS}
}

func requestView(rs metrics.RequestStats) view {
	v := view{latency: rs.Latency, requests: rs.Requests, rps: rs.RPS}
	if rs.Requests > 0 {
		v.failRatio = float64(rs.Failures) / float64(rs.Requests)
	}
	return v
}

// criterion reads one statistic from a view and knows how its limit is written.
type criterion struct {
	read   func(view) float64
	parse  func(string) (float64, error)
	format func(float64) string
}

func latencyCriterion(pick func(metrics.LatencyStats) time.Duration) criterion {
	return criterion{
		read: func(v view) float64 { return float64(pick(v.latency)) },
		parse: func(s string) (float64, error) {
			d, err := config.ParseDurationString(s)
			return float64(d), err
		},
		format: func(f float64) string { return time.Duration(f).String() },
	}
}

func numberCriterion(read func(view) float64, layout string) criterion {
	return criterion{
		read:   read,
		parse:  func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		format: func(f float64) string { return fmt.Sprintf(layout, f) },
	}
}

var (
	latencyCriteria = map[string]criterion{
		"min": latencyCriterion(func(l metrics.LatencyStats) time.Duration { return l.Min }),
		"max": latencyCriterion(func(l metrics.LatencyStats) time.Duration { return l.Max }),
		"avg": latencyCriterion(func(l metrics.LatencyStats) time.Duration { return l.Mean }),
		"med": latencyCriterion(func(l metrics.LatencyStats) time.Duration { return l.P50 }),
		"p50": latencyCriterion(func(l metrics.LatencyStats) time.Duration { return l.P50 }),
		"p90": latencyCriterion(func(l metrics.LatencyStats) time.Duration { return l.P90 }),
		"p95": latencyCriterion(func(l metrics.LatencyStats) time.Duration { return l.P95 }),
		"p99": latencyCriterion(func(l metrics.LatencyStats) time.Duration { return l.P99 }),
	}

	failRatio    = numberCriterion(func(v view) float64 { return v.failRatio }, "%.4f")
	requestCount = numberCriterion(func(v view) float64 { return float64(v.requests) }, "%.2f")
	requestRate  = numberCriterion(func(v view) float64 { return v.rps }, "%.2f")

	failedCriteria   = map[string]criterion{"rate": failRatio}
	requestsCriteria = map[string]criterion{"count": requestCount, "rate": requestRate}
	perNameCriteria  = withLatency(map[string]criterion{"fail_ratio": failRatio, "count": requestCount, "rps": requestRate})
)

func withLatency(extra map[string]criterion) map[string]criterion {
	all := make(map[string]criterion, len(latencyCriteria)+len(extra))
	for k, c := range latencyCriteria {
		all[k] = c
	}
	for k, c := range extra {
		all[k] = c
	}
	return all
}

var comparisons = map[string]func(a, b float64) bool{
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
	"==": func(a, b float64) bool { return a == b },
	"=":  func(a, b float64) bool { return a == b },
	"!=": func(a, b float64) bool { return a != b },
	"<>": func(a, b float64) bool { return a != b },
}

// EvaluateThresholds checks every configured threshold. Run-wide groups
// read snapshot; per-name thresholds read the matching entry of requests.
func EvaluateThresholds(t *config.ThresholdsConfig, snapshot *metrics.Snapshot, requests []metrics.RequestStats) []ThresholdResult {
	if t == nil {
		return nil
	}

	run := runView(snapshot)
	var results []ThresholdResult
	for _, expr := range t.HTTPReqDuration {
		results = append(results, evaluate("http_req_duration", "", expr, latencyCriteria, &run))
	}
	for _, expr := range t.HTTPReqFailed {
		results = append(results, evaluate("http_req_failed", "", expr, failedCriteria, &run))
	}
	for _, expr := range t.HTTPReqs {
		results = append(results, evaluate("http_reqs", "", expr, requestsCriteria, &run))
	}

	names := make([]string, 0, len(t.Requests))
	for name := range t.Requests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := nameView(name, requests)
		for _, expr := range t.Requests[name] {
			results = append(results, evaluate("request["+name+"]", name, expr, perNameCriteria, v))
		}
	}
	return results
}

// nameView merges every method recorded under name. Nil when nothing was.
func nameView(name string, requests []metrics.RequestStats) *view {
	var merged *view
	var failures int64
	for _, rs := range requests {
		if rs.Name != name {
			continue
		}
		v := requestView(rs)
		failures += rs.Failures
		if merged == nil {
			merged = &v
			continue
		}
		// Latency of the busiest method stands in for the name.
		if v.requests > merged.requests {
			merged.latency = v.latency
		}
		merged.requests += v.requests
		merged.rps += v.rps
	}
	if merged != nil && merged.requests > 0 {
		merged.failRatio = float64(failures) / float64(merged.requests)
	}
	return merged
}

func evaluate(metric, name, expr string, criteria map[string]criterion, v *view) ThresholdResult {
	result := ThresholdResult{Metric: metric, Name: name, Expression: expr}

	th, err := config.ParseThreshold(expr)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	c, ok := criteria[th.Metric]
	if !ok {
		result.Message = fmt.Sprintf("%s has no metric %q", metric, th.Metric)
		return result
	}
	limit, err := c.parse(th.Value)
	if err != nil {
		result.Message = fmt.Sprintf("bad limit %q: %v", th.Value, err)
		return result
	}
	if v == nil {
		result.Message = fmt.Sprintf("no requests recorded for %s", name)
		return result
	}

	actual := c.read(*v)
	result.Value = c.format(actual)
	result.Passed = comparisons[th.Op](actual, limit)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, want %s %s", th.Metric, result.Value, th.Op, c.format(limit))
	}
	return result
}
