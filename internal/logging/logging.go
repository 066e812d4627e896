// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Supported formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configure the logger.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logger from opts. Empty fields keep logrus defaults.
func New(opts Options) (*log.Logger, error) {
	logger := log.New()
	if err := configure(logger, opts); err != nil {
		return nil, err
	}
	return logger, nil
}

func configure(logger *log.Logger, opts Options) error {
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	}

	if opts.Level != "" {
		level, err := log.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		logger.SetLevel(level)
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q (expected text or json)", opts.Format)
	}
	return nil
}
