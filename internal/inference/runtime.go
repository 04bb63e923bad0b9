// SPDX-License-Identifier: MIT
package inference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"wakeword/internal/model"
)

// Runtime is the real inference backend: a two-layer dense network
// (ReLU hidden activation, sigmoid output) whose tensors live in a single
// preallocated arena. The arena is sized once at construction and never
// grows; every Invoke reuses it, so the steady-state path does not
// allocate.
type Runtime struct {
	model *model.Model

	arena  []float64 // single backing region for all tensors
	input  []float64 // view into arena, len = model.InputSize
	hidden []float64 // view into arena, len = model.HiddenSize
	output []float64 // view into arena, len = model.OutputSize

	// Weight rows converted once at load so Invoke can use float64 dot
	// products without per-call conversion.
	w1 [][]float64
	b1 []float64
	w2 [][]float64
	b2 []float64

	closed bool
}

const bytesPerTensorValue = 8

// NewRuntime binds a parsed model to an arena of arenaSize bytes. The
// arena must hold the input, hidden, and output tensors; if it cannot,
// construction fails with ErrArena and nothing is allocated for the
// caller to clean up.
func NewRuntime(m *model.Model, arenaSize int) (*Runtime, error) {
	if m == nil {
		return nil, fmt.Errorf("inference: nil model")
	}
	if arenaSize <= 0 {
		return nil, fmt.Errorf("%w: arena size %d", ErrArena, arenaSize)
	}

	need := m.InputSize + m.HiddenSize + m.OutputSize
	if arenaSize/bytesPerTensorValue < need {
		return nil, fmt.Errorf("%w: need %d bytes, have %d",
			ErrArena, need*bytesPerTensorValue, arenaSize)
	}

	arena := make([]float64, need)
	r := &Runtime{
		model:  m,
		arena:  arena,
		input:  arena[:m.InputSize],
		hidden: arena[m.InputSize : m.InputSize+m.HiddenSize],
		output: arena[m.InputSize+m.HiddenSize:],
		b1:     toFloat64(m.B1),
		b2:     toFloat64(m.B2),
	}

	r.w1 = make([][]float64, m.HiddenSize)
	for i := range r.w1 {
		r.w1[i] = toFloat64(m.W1[i*m.InputSize : (i+1)*m.InputSize])
	}
	r.w2 = make([][]float64, m.OutputSize)
	for i := range r.w2 {
		r.w2[i] = toFloat64(m.W2[i*m.HiddenSize : (i+1)*m.HiddenSize])
	}

	return r, nil
}

// Model returns the model bound to this runtime.
func (r *Runtime) Model() *model.Model { return r.model }

// InputSize returns the declared input tensor length.
func (r *Runtime) InputSize() int { return r.model.InputSize }

// OutputSize returns the declared output tensor length.
func (r *Runtime) OutputSize() int { return r.model.OutputSize }

// Invoke runs one forward pass. Input values beyond InputSize are
// truncated; an under-filled input tensor keeps zeros in the tail, which
// is an accepted degradation rather than an error. A non-finite result
// fails with ErrInvoke and leaves output untouched.
func (r *Runtime) Invoke(input []float32, output []float32) (int, error) {
	if r == nil || r.closed {
		return 0, ErrNotReady
	}

	n := min(len(input), len(r.input))
	for i := range n {
		r.input[i] = float64(input[i])
	}
	for i := n; i < len(r.input); i++ {
		r.input[i] = 0
	}

	for i, row := range r.w1 {
		v := floats.Dot(row, r.input) + r.b1[i]
		if v < 0 {
			v = 0 // ReLU
		}
		r.hidden[i] = v
	}
	for i, row := range r.w2 {
		v := floats.Dot(row, r.hidden) + r.b2[i]
		r.output[i] = 1 / (1 + math.Exp(-v))
	}

	for _, v := range r.output {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: non-finite output", ErrInvoke)
		}
	}

	out := min(len(r.output), len(output))
	for i := range out {
		output[i] = float32(r.output[i])
	}
	return out, nil
}

// Close releases the arena. Safe to call more than once; Invoke after
// Close fails with ErrNotReady.
func (r *Runtime) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	r.arena = nil
	r.input = nil
	r.hidden = nil
	r.output = nil
	return nil
}

func toFloat64(src []float32) []float64 {
	dst := make([]float64, len(src))
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}

var _ Engine = (*Runtime)(nil)
