// Package logging provides the fabric's structured logger, adapted from
// cuemby-warren's pkg/log: a package-level zerolog.Logger configured once at
// startup, with field helpers for the identifiers this fabric cares about
// (worker_id, node_id, service_type) rather than warren's (node_id,
// service_id, task_id).
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init must be called once at startup;
// until then it defaults to an info-level console logger on stderr.
var Logger zerolog.Logger

// Level mirrors the four levels the fabric's binaries expose on the CLI.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global Logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithWorkerID creates a child logger scoped to a worker_id field.
func WithWorkerID(workerID string) zerolog.Logger {
	return Logger.With().Str("worker_id", workerID).Logger()
}

// WithNodeID creates a child logger scoped to a node_id field (coordinator
// or DHT node identity, as distinct from worker_id).
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithServiceType creates a child logger scoped to a service_type field.
func WithServiceType(serviceType string) zerolog.Logger {
	return Logger.With().Str("service_type", serviceType).Logger()
}

// WithComponent creates a child logger scoped to a component field, used by
// background loops (heartbeat, republish, health monitor) to identify their
// origin in log output.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
