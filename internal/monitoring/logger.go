// Package monitoring holds the process-wide diagnostic logging hook for the
// ground station.
package monitoring

import "log"

// Logf is the diagnostic logger used by the control loops and mode routines.
// It defaults to log.Printf; tests mute it and dev tooling can redirect it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger, which silences all diagnostics.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
