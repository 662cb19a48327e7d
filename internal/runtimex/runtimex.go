// Package runtimex contains small runtime assertions for invariants
// that startup code establishes and that should never fail in
// practice — e.g. a freshly created output directory that vanishes
// before it is used. It is not a substitute for the engine's ordinary,
// recoverable error handling (internal/model's error taxonomy), which
// every expected failure mode (bad config, DNS failure, a refused
// connection) goes through instead.
package runtimex

import "fmt"

// PanicOnError calls panic(message: err) if err is not nil.
func PanicOnError(err error, message string) {
	if err != nil {
		panic(fmt.Errorf("%s: %w", message, err))
	}
}

// Try0 panics if err is not nil, otherwise returns.
func Try0(err error) {
	PanicOnError(err, "runtimex: unexpected error")
}

// Try1 panics if err is not nil, otherwise returns v.
func Try1[T any](v T, err error) T {
	PanicOnError(err, "runtimex: unexpected error")
	return v
}
