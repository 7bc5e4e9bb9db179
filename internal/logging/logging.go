// Package logging is the engine's structured logger: a thin wrapper
// around logiface.Logger[*stumpy.Event].
//
// daemon.c logs through logging_log(level, fmt, ...) with a handful of
// severities (DEBUG_MSG at several verbosity levels, LOG_WARNING,
// LOG_NOTICE). Those map onto logiface's syslog-style levels as: DEBUG_MSG
// -> Debug, the "Premature end of test"/warning-class messages ->
// Warning, flow setup/option failures -> Err.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete event type used throughout the engine.
type Logger = logiface.Logger[*stumpy.Event]

// New constructs the default logger, writing newline-delimited JSON to w
// (os.Stderr if nil).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
		),
		stumpy.L.WithLevel(logiface.LevelDebug),
	)
}

// Discard is a logger that writes nowhere, used by tests that don't want
// to assert on log output but still need a non-nil logger.
func Discard() *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(io.Discard),
		),
	)
}
