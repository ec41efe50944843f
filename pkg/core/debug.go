package core

import "sync/atomic"

var debugMode atomic.Bool

// SetDebugMode enables or disables debug checks. With debug mode on, the
// slot table of a composition is verified after every pass and a violated
// invariant disposes the composition like any internal error.
func SetDebugMode(debug bool) {
	debugMode.Store(debug)
}

// DebugMode reports whether debug checks are enabled.
func DebugMode() bool { return debugMode.Load() }
