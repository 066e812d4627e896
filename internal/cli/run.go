package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kheven/swarm/internal/logging"
	"github.com/kheven/swarm/internal/scenario"
	"github.com/kheven/swarm/internal/swarm"
	"github.com/kheven/swarm/internal/swarm/config"
	"github.com/kheven/swarm/internal/swarm/output"
	"github.com/kheven/swarm/internal/swarm/report"
	"github.com/kheven/swarm/internal/swarm/runner"
)

type runOptions struct {
	configFile  string
	scenario    string
	host        string
	users       int
	spawnRate   float64
	runTime     string
	iterations  int64
	seed        uint64
	stopTimeout string
	maxRPS      float64

	jsonPath  string
	csvPrefix string
	htmlPath  string

	quiet           bool
	verbose         bool
	noColor         bool
	exitCodeOnError int
	logLevel        string
	logFormat       string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run users against a host until the run time elapses, the iteration
limit is reached, or the run is interrupted.

Settings are taken from defaults, then the config file, then SWARM_*
environment variables, then flags.

Examples:
  swarm run --host http://localhost:8080 --users 10 --spawn-rate 2 --run-time 1m
  swarm run --config swarm.yaml --csv results/run1 --html report.html
  SWARM_HOST=http://localhost:8080 swarm run --iterations 1000 --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Run configuration file (YAML or JSON)")
	f.StringVar(&opts.scenario, "scenario", "", "Registered user class to run (default LoadTestUser)")
	f.StringVarP(&opts.host, "host", "H", "", "Host to load test, e.g. http://localhost:8080")
	f.IntVarP(&opts.users, "users", "u", 0, "Number of concurrent users")
	f.Float64VarP(&opts.spawnRate, "spawn-rate", "r", 0, "Users started per second")
	f.StringVarP(&opts.runTime, "run-time", "t", "", "Stop after this duration, e.g. 30s, 5m (default: run until stopped)")
	f.Int64Var(&opts.iterations, "iterations", 0, "Stop after this many tasks across all users")
	f.Uint64Var(&opts.seed, "seed", 0, "Seed for task selection and wait times (0 = random)")
	f.StringVar(&opts.stopTimeout, "stop-timeout", "", "Time users get to finish their current task when stopping")
	f.Float64Var(&opts.maxRPS, "max-rps", 0, "Cap requests per second across all users (0 = unlimited)")
	f.StringVar(&opts.jsonPath, "json", "", "Write the result as JSON to this file ('-' for stdout)")
	f.StringVar(&opts.csvPrefix, "csv", "", "Write <prefix>_stats.csv and <prefix>_failures.csv")
	f.StringVar(&opts.htmlPath, "html", "", "Write an HTML report to this file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the final verdict")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log each failed task")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	f.IntVar(&opts.exitCodeOnError, "exit-code-on-error", 1, "Exit code when any request failed")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", logging.FormatText, "Log format (text, json)")

	return cmd
}

func runLoadTest(cmd *cobra.Command, opts *runOptions) error {
	level := opts.logLevel
	if opts.verbose && !cmd.Flags().Changed("log-level") {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: opts.logFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	cfg, err := loadRunConfig(opts, cmd.Flags(), os.LookupEnv)
	if err != nil {
		return err
	}

	user, err := resolveUser(cfg)
	if err != nil {
		return err
	}

	r, err := runner.NewRunner(cfg, user, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdout := cmd.OutOrStdout()
	if opts.jsonPath == "-" {
		// Keep stdout clean for the JSON document.
		stdout = cmd.ErrOrStderr()
	}
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName: cfg.Name,
		Host:     cfg.Host,
		Writer:   stdout,
		Quiet:    opts.quiet,
		NoColors: opts.noColor,
	})
	console.PrintHeader()

	result, runErr := runWithProgress(ctx, r, console, cfg)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	console.PrintSummary(result)

	if err := writeReports(cmd.OutOrStdout(), opts, result, logger); err != nil {
		return err
	}

	if !result.Passed {
		return &ExitError{Code: 1, Err: errors.New("one or more thresholds failed")}
	}
	if result.Metrics != nil && result.Metrics.FailedRequests > 0 && opts.exitCodeOnError != 0 {
		return &ExitError{Code: opts.exitCodeOnError}
	}
	return nil
}

// runWithProgress runs r while refreshing the console once a second.
func runWithProgress(ctx context.Context, r *runner.Runner, console *output.ConsoleOutput, cfg *config.RunConfig) (*runner.Result, error) {
	type outcome struct {
		result *runner.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := r.Run(ctx)
		done <- outcome{result, err}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-ticker.C:
			if !r.IsRunning() {
				continue
			}
			stats := output.StatsFromMetrics(r.GetMetrics(), r.GetProgress(), cfg.RunTime.Std(), cfg.Users)
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// loadRunConfig layers defaults, the config file, the environment and
// explicitly set flags.
func loadRunConfig(opts *runOptions, flags *pflag.FlagSet, lookup func(string) (string, bool)) (*config.RunConfig, error) {
	cfg := &config.RunConfig{}
	if opts.configFile != "" {
		loaded, err := config.LoadConfig(opts.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if flags.Changed("scenario") {
		cfg.Scenario = opts.scenario
	}
	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("users") {
		cfg.Users = opts.users
	}
	if flags.Changed("spawn-rate") {
		cfg.SpawnRate = opts.spawnRate
	}
	if flags.Changed("run-time") {
		d, err := config.ParseDurationString(opts.runTime)
		if err != nil {
			return nil, fmt.Errorf("--run-time: %w", err)
		}
		cfg.RunTime = config.Duration(d)
	}
	if flags.Changed("iterations") {
		cfg.Iterations = opts.iterations
	}
	if flags.Changed("seed") {
		cfg.Seed = opts.seed
	}
	if flags.Changed("stop-timeout") {
		d, err := config.ParseDurationString(opts.stopTimeout)
		if err != nil {
			return nil, fmt.Errorf("--stop-timeout: %w", err)
		}
		cfg.StopTimeout = config.Duration(d)
	}
	if flags.Changed("max-rps") {
		cfg.Settings.MaxRPS = opts.maxRPS
	}

	config.ApplyDefaults(cfg)
	return cfg, nil
}

// resolveUser returns the user class for cfg with its overrides applied.
func resolveUser(cfg *config.RunConfig) (*swarm.User, error) {
	if cfg.Scenario == "" {
		return cfg.BuildUser(), nil
	}
	base, err := scenario.Lookup(cfg.Scenario)
	if err != nil {
		return nil, err
	}
	return cfg.Customize(base), nil
}

func writeReports(stdout io.Writer, opts *runOptions, result *runner.Result, logger log.FieldLogger) error {
	if opts.jsonPath == "-" {
		if err := report.WriteJSON(stdout, result); err != nil {
			return err
		}
	} else if opts.jsonPath != "" {
		if err := ensureDir(opts.jsonPath); err != nil {
			return err
		}
		if err := report.WriteJSONFile(opts.jsonPath, result); err != nil {
			return err
		}
		logger.WithField("path", opts.jsonPath).Info("JSON report written")
	}

	if opts.csvPrefix != "" {
		if err := ensureDir(opts.csvPrefix); err != nil {
			return err
		}
		if err := report.WriteCSV(opts.csvPrefix, result); err != nil {
			return err
		}
		logger.WithField("prefix", opts.csvPrefix).Info("CSV reports written")
	}

	if opts.htmlPath != "" {
		path := opts.htmlPath
		if !strings.HasSuffix(strings.ToLower(path), ".html") {
			path += ".html"
		}
		if err := ensureDir(path); err != nil {
			return err
		}
		if err := report.GenerateHTML(result, path); err != nil {
			return err
		}
		logger.WithField("path", path).Info("HTML report written")
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
