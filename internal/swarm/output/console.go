// Package output renders run progress and results to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/runner"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	rule           = "━"
	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveUsers int
	TargetUsers int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
}

// ConsoleOutput manages console output during a run.
type ConsoleOutput struct {
	testName string
	host     string
	writer   io.Writer
	isTTY    bool
	quiet    bool
	colors   *ColorScheme

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName    string
	Host        string
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	ForceTTY    bool
	NoColors    bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var scheme *ColorScheme
	switch {
	case config.NoColors:
		scheme = NoColorScheme()
	case config.ForceColors || (isTTY && supportsColors()):
		scheme = ForcedColorScheme()
	default:
		scheme = NoColorScheme()
	}

	return &ConsoleOutput{
		testName: config.TestName,
		host:     config.Host,
		writer:   config.Writer,
		isTTY:    isTTY,
		quiet:    config.Quiet,
		colors:   scheme,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(rule, 56)
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running", c.testName))
	if c.host != "" {
		c.writeln(c.colors.Dim.Sprintf("Host: %s", c.host))
	}
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")
}

// Update redraws the live display. It does nothing when not on a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	timeInfo := formatDuration(stats.Elapsed)
	if stats.Remaining > 0 {
		timeInfo = fmt.Sprintf("%s / %s", timeInfo, formatDuration(stats.Elapsed+stats.Remaining))
	}
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Progress.Sprint(renderProgressBar(stats.Progress, 40)),
		c.colors.Label.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Dim.Sprint(timeInfo)))
	lines = append(lines, fmt.Sprintf("Phase:    %s", c.colors.Phase.Sprint(stats.CurrentPhase)))
	lines = append(lines, fmt.Sprintf("Users:    %s / %d   Requests: %s   RPS: %s",
		c.colors.Value.Sprint(stats.ActiveUsers),
		stats.TargetUsers,
		c.colors.Value.Sprint(formatNumber(stats.TotalRequests)),
		c.colors.Success.Sprintf("%.1f", stats.CurrentRPS)))

	errColor := c.colors.rateColor(stats.ErrorRate)
	lines = append(lines, fmt.Sprintf("Failures: %s (%s)   P95: %s   Avg: %s",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100),
		c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP95)),
		c.colors.Latency.Sprint(formatDurationShort(stats.LatencyAvg))))
	return lines
}

// PrintNonInteractiveUpdate prints a one-line status update, used when the
// output is not a terminal.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s | Users: %d | Reqs: %d | RPS: %.1f | Fails: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.CurrentPhase,
		stats.ActiveUsers,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final result.
func (c *ConsoleOutput) PrintSummary(result *runner.Result) {
	if result == nil {
		return
	}
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(rule, 56)
	status := c.colors.Success.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Error.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s (%s)", c.colors.Value.Sprint(formatDuration(result.Duration)), result.StopReason))
	c.writeln(fmt.Sprintf("Users:         %s", c.colors.Value.Sprint(result.Users)))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.Value.Sprint(formatNumber(result.Iterations))))
	if result.Metrics != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(result.Metrics.TotalRequests))))
		successRate := 1.0 - result.Metrics.ErrorRate
		c.writeln(fmt.Sprintf("Success Rate:  %s",
			c.colors.rateColor(result.Metrics.ErrorRate).Sprintf("%.1f%%", successRate*100)))
	}
	if rl := result.RateLimit; rl != nil {
		c.writeln(fmt.Sprintf("Rate Limit:    %s (waited %s in total)",
			c.colors.Value.Sprintf("%g req/s", rl.Rate), formatDuration(rl.WaitTime)))
	}
	c.writeln("")

	if len(result.Tasks) > 0 {
		c.writeln(c.colors.Label.Sprint("Task Mix:"))
		tw := tabwriter.NewWriter(c.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  Task\tWeight\tCount\tShare\tExpected")
		for _, t := range result.Tasks {
			fmt.Fprintf(tw, "  %s\t%d\t%d\t%.1f%%\t%.1f%%\n", t.Name, t.Weight, t.Count, t.Share*100, t.Expected*100)
		}
		tw.Flush()
		c.writeln("")
	}

	if len(result.Requests) > 0 {
		c.writeln(c.colors.Label.Sprint("Requests:"))
		c.writeRequestTable(result.Requests, result.Metrics)
		c.writeln("")
	}

	if len(result.Errors) > 0 {
		c.writeln(c.colors.Error.Sprint("Failures:"))
		tw := tabwriter.NewWriter(c.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tType\tName\tError")
		for _, e := range result.Errors {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", e.Occurrences, e.Method, e.Name, e.Error)
		}
		tw.Flush()
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := c.colors.Success.Sprint("✓")
			if !t.Passed {
				mark = c.colors.Error.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
		}
		c.writeln("")
	}
}

func (c *ConsoleOutput) writeRequestTable(requests []metrics.RequestStats, total *metrics.Snapshot) {
	tw := tabwriter.NewWriter(c.writer, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Type\tName\t# reqs\t# fails\tAvg\tMin\tMax\tMed\tP95\treq/s\t")
	for _, r := range requests {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d (%.1f%%)\t%s\t%s\t%s\t%s\t%s\t%.2f\t\n",
			r.Method, r.Name, r.Requests, r.Failures, r.FailureRate()*100,
			formatDurationShort(r.Latency.Mean),
			formatDurationShort(r.Latency.Min),
			formatDurationShort(r.Latency.Max),
			formatDurationShort(r.Latency.P50),
			formatDurationShort(r.Latency.P95),
			r.RPS)
	}
	if total != nil {
		fmt.Fprintf(tw, "\tAggregated\t%d\t%d (%.1f%%)\t%s\t%s\t%s\t%s\t%s\t%.2f\t\n",
			total.TotalRequests, total.FailedRequests, total.ErrorRate*100,
			formatDurationShort(total.Latency.Mean),
			formatDurationShort(total.Latency.Min),
			formatDurationShort(total.Latency.Max),
			formatDurationShort(total.Latency.P50),
			formatDurationShort(total.Latency.P95),
			total.RPS)
	}
	tw.Flush()
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromMetrics creates LiveStats from a metrics snapshot.
func StatsFromMetrics(snapshot *metrics.Snapshot, progress float64, runTime time.Duration, targetUsers int) *LiveStats {
	if snapshot == nil {
		return &LiveStats{
			Progress:     progress,
			TargetUsers:  targetUsers,
			CurrentPhase: "initializing",
		}
	}

	elapsed := snapshot.Elapsed
	remaining := time.Duration(0)
	if runTime > 0 {
		remaining = runTime - elapsed
		if remaining < 0 {
			remaining = 0
		}
	} else if progress > 0 && progress < 1 {
		remaining = time.Duration(float64(elapsed) * (1 - progress) / progress)
	}

	return &LiveStats{
		Progress:      progress,
		Elapsed:       elapsed,
		Remaining:     remaining,
		ActiveUsers:   snapshot.ActiveUsers,
		TargetUsers:   targetUsers,
		CurrentRPS:    snapshot.RPS,
		TotalRequests: snapshot.TotalRequests,
		Errors:        snapshot.FailedRequests,
		ErrorRate:     snapshot.ErrorRate,
		LatencyP95:    snapshot.Latency.P95,
		LatencyAvg:    snapshot.Latency.Mean,
		CurrentPhase:  string(snapshot.CurrentPhase),
	}
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result strings.Builder
	if neg {
		result.WriteString("-")
	}
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
