package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/runner"
)

// GenerateHTML renders an HTML report for result and writes it to outputPath.
func GenerateHTML(result *runner.Result, outputPath string) error {
	html, err := GenerateHTMLString(result)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// GenerateHTMLString renders an HTML report for result.
func GenerateHTMLString(result *runner.Result) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, result); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatLatency":  formatLatency,
		"formatBytes":    formatBytes,
		"percent":        percent,
		"successRate":    successRate,
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatLatency(d time.Duration) string {
	switch {
	case d == 0:
		return "0"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		ms := float64(d.Microseconds()) / 1000.0
		if ms < 10 {
			return fmt.Sprintf("%.2fms", ms)
		}
		return fmt.Sprintf("%.0fms", ms)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(n int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/KB)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// percent formats a 0..1 ratio as a percentage.
func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func successRate(m *metrics.Snapshot) float64 {
	if m == nil || m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessRequests) / float64(m.TotalRequests)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Load Test Report</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background: #f8fafc; color: #1e293b; margin: 0; }
.container { max-width: 1200px; margin: 0 auto; padding: 2rem; }
.card { background: #fff; border-radius: 10px; padding: 1.5rem; margin-bottom: 1.5rem; box-shadow: 0 1px 3px rgba(0,0,0,.1); }
h1 { margin: 0 0 .5rem 0; }
.meta { color: #64748b; font-size: .9rem; }
.status { display: inline-block; padding: .4rem 1rem; border-radius: 6px; font-weight: 600; }
.pass { background: #dcfce7; color: #166534; }
.fail { background: #fee2e2; color: #991b1b; }
.grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 1rem; }
.label { color: #64748b; font-size: .8rem; text-transform: uppercase; }
.value { font-size: 1.5rem; font-weight: 700; }
table { width: 100%; border-collapse: collapse; }
th, td { text-align: right; padding: .5rem; border-bottom: 1px solid #e2e8f0; font-size: .9rem; }
th:nth-child(-n+2), td:nth-child(-n+2) { text-align: left; }
</style>
</head>
<body>
<div class="container">
<div class="card">
<h1>{{.Name}}</h1>
{{if .Description}}<p>{{.Description}}</p>{{end}}
<p class="meta">{{.Host}} · {{.StartTime.Format "2006-01-02 15:04:05"}} · {{formatDuration .Duration}} · {{.StopReason}}</p>
<span class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}PASSED{{else}}FAILED{{end}}</span>
</div>

{{with .Metrics}}
<div class="card grid">
<div><div class="label">Requests</div><div class="value">{{.TotalRequests}}</div></div>
<div><div class="label">Throughput</div><div class="value">{{printf "%.1f" .RPS}} req/s</div></div>
<div><div class="label">Failures</div><div class="value">{{percent .ErrorRate}}</div></div>
<div><div class="label">Success</div><div class="value">{{percent (successRate .)}}</div></div>
<div><div class="label">P95</div><div class="value">{{formatLatency .Latency.P95}}</div></div>
<div><div class="label">Data</div><div class="value">{{formatBytes .TotalBytes}}</div></div>
</div>
{{end}}

{{if .Tasks}}
<div class="card">
<h2>Task Mix</h2>
<table>
<tr><th>Task</th><th></th><th>Weight</th><th>Count</th><th>Share</th><th>Expected</th></tr>
{{range .Tasks}}<tr><td>{{.Name}}</td><td></td><td>{{.Weight}}</td><td>{{.Count}}</td><td>{{percent .Share}}</td><td>{{percent .Expected}}</td></tr>
{{end}}
</table>
</div>
{{end}}

{{if .Requests}}
<div class="card">
<h2>Requests</h2>
<table>
<tr><th>Type</th><th>Name</th><th># reqs</th><th># fails</th><th>Avg</th><th>Min</th><th>Max</th><th>Med</th><th>P95</th><th>P99</th><th>req/s</th></tr>
{{range .Requests}}<tr><td>{{.Method}}</td><td>{{.Name}}</td><td>{{.Requests}}</td><td>{{.Failures}}</td><td>{{formatLatency .Latency.Mean}}</td><td>{{formatLatency .Latency.Min}}</td><td>{{formatLatency .Latency.Max}}</td><td>{{formatLatency .Latency.P50}}</td><td>{{formatLatency .Latency.P95}}</td><td>{{formatLatency .Latency.P99}}</td><td>{{printf "%.2f" .RPS}}</td></tr>
{{end}}
</table>
</div>
{{end}}

{{if .Errors}}
<div class="card">
<h2>Failures</h2>
<table>
<tr><th>Type</th><th>Name</th><th>Error</th><th>Occurrences</th></tr>
{{range .Errors}}<tr><td>{{.Method}}</td><td>{{.Name}}</td><td>{{.Error}}</td><td>{{.Occurrences}}</td></tr>
{{end}}
</table>
</div>
{{end}}

{{if .Thresholds}}
<div class="card">
<h2>Thresholds</h2>
<table>
<tr><th>Metric</th><th>Expression</th><th>Actual</th><th>Result</th></tr>
{{range .Thresholds}}<tr><td>{{.Metric}}</td><td>{{.Expression}}</td><td>{{.Value}}</td><td class="{{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}pass{{else}}fail{{end}}</td></tr>
{{end}}
</table>
</div>
{{end}}

<p class="meta">Generated by swarm · {{.EndTime.Format "2006-01-02 15:04:05 MST"}}{{if .ID}} · run {{.ID}}{{end}}</p>
</div>
</body>
</html>
`
