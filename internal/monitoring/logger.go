// Package monitoring provides the shared diagnostic loggers for the
// capture and analysis pipeline.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// verbose gates the high-frequency per-frame telemetry stream. Off by
// default so a normal run logs per-vehicle events, not per-frame noise.
var verbose atomic.Bool

// SetVerbose enables or disables the per-frame Debugf stream.
func SetVerbose(v bool) {
	verbose.Store(v)
}

// Debugf logs high-frequency per-frame telemetry when verbose mode is on.
// Routed through Logf so redirection via SetLogger covers both streams.
func Debugf(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}
