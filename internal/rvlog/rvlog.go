// Package rvlog provides the terse, level-gated diagnostics used
// throughout the machine and device packages. The teacher repo has no
// structured logging dependency of its own — main.go and features.go
// log with plain fmt.Printf/log.Printf at the call site — so this
// keeps that texture: a thin wrapper over the standard log package
// rather than adopting a third-party structured logger nothing in the
// retrieval pack reaches for.
package rvlog

import (
	"log"
	"os"
	"sync/atomic"
)

var verbose atomic.Bool

// SetVerbose toggles whether Debugf actually prints.
func SetVerbose(v bool) { verbose.Store(v) }

var std = log.New(os.Stderr, "", log.LstdFlags)

// Warnf logs an always-visible warning.
func Warnf(format string, args ...any) {
	std.Printf("warn: "+format, args...)
}

// Errorf logs an always-visible error.
func Errorf(format string, args ...any) {
	std.Printf("error: "+format, args...)
}

// Debugf logs only when SetVerbose(true) has been called.
func Debugf(format string, args ...any) {
	if verbose.Load() {
		std.Printf("debug: "+format, args...)
	}
}
