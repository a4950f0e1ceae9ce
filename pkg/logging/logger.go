// Package logging configures structured logging with zerolog. Logs always go
// to a side channel (stderr by default) so stdout stays a clean record stream.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace logs every page and record decision.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Str("app", "tap-sentry").Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level. An empty name means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewRunLogger creates a component logger tagged with a sync run id.
func NewRunLogger(component, runID string) zerolog.Logger {
	return log.With().Str("component", component).Str("run_id", runID).Logger()
}

// Log Level Guidelines:
//
// Trace: per record decisions (dropped by post-processing)
//
// Debug: page flow
//   - Request URL and parameters of each page
//   - Cache hit/miss for replayed pages
//   - Rate limit state updates
//
// Info: run progress
//   - Stream start and completion with counts
//   - Run start/finish
//
// Warn: degraded but continuing
//   - Throttling or blocking on the Sentry rate limit
//   - Retry attempts
//   - Redis errors in optional components
//
// Error: the run stops
//   - Non-2xx responses after retries
//   - Malformed response bodies
//   - Configuration errors
//
// Context Fields:
//   - run_id: sync run identifier
//   - stream: stream name (events, issues)
//   - endpoint: API path
//   - page: 1-based page number within a stream
//   - records: record count
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network
