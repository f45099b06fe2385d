package main

import (
	"os"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

// newLogger installs the zerolog backend and returns the process logger.
func newLogger(verbose bool) *xlog.Logger {
	level := xlog.LevelInfo
	if verbose {
		level = xlog.LevelDebug
	}
	return zerolog.Use(zerolog.Config{
		MinLevel:          level,
		Console:           true,
		ConsoleTimeFormat: time.RFC3339Nano,
		Caller:            verbose,
		CallerSkip:        5,
		Writer:            os.Stderr,
	}).With(xlog.Str("app", "tincan"))
}
