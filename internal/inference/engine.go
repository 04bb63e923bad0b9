// SPDX-License-Identifier: MIT
/*
Package inference runs forward passes over frozen wake word models inside a
caller-sized memory arena.

Two Engine implementations exist: Runtime, backed by a parsed model and a
fixed arena, and Unavailable, a stub whose Invoke always fails with
ErrNotSupported. The orchestrator picks one at construction, so call sites
never branch on whether a real model is present.
*/
package inference

import "errors"

var (
	// ErrNotReady is returned by Invoke after Close.
	ErrNotReady = errors.New("inference: engine not initialized")

	// ErrNotSupported is returned by the Unavailable engine on every
	// Invoke. Callers treat it as a signal to fall back to test mode.
	ErrNotSupported = errors.New("inference: runtime not available")

	// ErrArena is returned at construction when the arena cannot hold
	// the model's tensors. Distinct from schema errors; both are fatal.
	ErrArena = errors.New("inference: tensor arena exhausted")

	// ErrInvoke is returned when a forward pass fails at runtime. The
	// caller's output buffer is left untouched.
	ErrInvoke = errors.New("inference: forward pass failed")
)

// Engine runs one forward pass per Invoke. Implementations are single
// owner: concurrent Invoke calls on the same engine must be serialized by
// the caller.
type Engine interface {
	// InputSize returns the declared input tensor length in floats.
	InputSize() int

	// OutputSize returns the declared output tensor length in floats.
	OutputSize() int

	// Invoke copies min(len(input), InputSize) values into the input
	// tensor, runs the model, copies min(OutputSize, len(output)) values
	// out, and returns the number of values written.
	Invoke(input []float32, output []float32) (int, error)

	// Close releases the engine's resources. Idempotent.
	Close() error
}
