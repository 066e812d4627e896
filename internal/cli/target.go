package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kheven/swarm/internal/logging"
	"github.com/kheven/swarm/internal/target"
)

func newTargetCmd() *cobra.Command {
	var (
		addr      string
		slowDelay time.Duration
		staticDir string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "target",
		Short: "Serve a demo HTTP target with / and /slow",
		Long: `Serve a small HTTP server to point a run at. GET / answers immediately,
GET /slow answers after --slow-delay. /status reports request counters
and /metrics exposes them in Prometheus format. With --static-dir, other
GET paths are served from that directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Options{
				Level:  logLevel,
				Format: logFormat,
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := target.NewServer(target.Config{
				Addr:      addr,
				SlowDelay: slowDelay,
				StaticDir: staticDir,
				Log:       logger,
			})
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", target.DefaultAddr, "Address to listen on")
	cmd.Flags().DurationVar(&slowDelay, "slow-delay", target.DefaultSlowDelay, "Delay before /slow responds")
	cmd.Flags().StringVar(&staticDir, "static-dir", "", "Serve files from this directory for unmatched GET requests")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format (text, json)")
	return cmd
}
