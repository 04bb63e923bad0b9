// SPDX-License-Identifier: MIT
package inference

// Unavailable is the engine used when no model was supplied. It reports
// the shape the pipeline expects but deterministically fails every Invoke
// with ErrNotSupported, letting the rest of the pipeline run in a
// degraded test configuration without special-casing call sites.
type Unavailable struct {
	inputSize  int
	outputSize int
}

// NewUnavailable creates an engine stub with the given declared shape.
func NewUnavailable(inputSize, outputSize int) *Unavailable {
	return &Unavailable{inputSize: inputSize, outputSize: outputSize}
}

func (u *Unavailable) InputSize() int  { return u.inputSize }
func (u *Unavailable) OutputSize() int { return u.outputSize }

// Invoke always fails with ErrNotSupported.
func (u *Unavailable) Invoke(input []float32, output []float32) (int, error) {
	return 0, ErrNotSupported
}

// Close is a no-op.
func (u *Unavailable) Close() error { return nil }

var _ Engine = (*Unavailable)(nil)
