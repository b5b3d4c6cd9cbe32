// Package logger provides the process-level structured logger for funcdock.
//
// This is distinct from internal/funclog, which implements the per-function
// bounded, rotating log streams described by the platform spec. This package
// only covers funcdock's own operational logging: startup, shutdown,
// registry reloads, deploy outcomes, and the HTTP access log.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global process logger, configured by Initialize.
var Log zerolog.Logger

// Initialize configures the global logger. level is one of
// error/warn/info/debug (see LOG_LEVEL). pretty selects a human-readable
// console writer instead of JSON (useful in local development).
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	Log = log.With().Str("service", "funcdock").Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Get returns the global logger instance.
func Get() *zerolog.Logger {
	return &Log
}

// Registry returns a logger scoped to the function registry subsystem.
func Registry() *zerolog.Logger {
	l := Log.With().Str("component", "registry").Logger()
	return &l
}

// Dispatcher returns a logger scoped to the route dispatcher subsystem.
func Dispatcher() *zerolog.Logger {
	l := Log.With().Str("component", "dispatcher").Logger()
	return &l
}

// Watcher returns a logger scoped to the filesystem watcher subsystem.
func Watcher() *zerolog.Logger {
	l := Log.With().Str("component", "watcher").Logger()
	return &l
}

// Cron returns a logger scoped to the cron scheduler subsystem.
func Cron() *zerolog.Logger {
	l := Log.With().Str("component", "cron").Logger()
	return &l
}

// Deploy returns a logger scoped to the safe-deploy orchestrator subsystem.
func Deploy() *zerolog.Logger {
	l := Log.With().Str("component", "deploy").Logger()
	return &l
}

// HTTP returns a logger scoped to the HTTP control plane subsystem.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
