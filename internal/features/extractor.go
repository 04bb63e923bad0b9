// SPDX-License-Identifier: MIT
/*
Package features converts raw PCM audio frames into fixed-length log-mel
feature vectors for wake word inference.

The transform per frame: int16 samples are scaled to [-1, 1], Hann windowed,
passed through a real FFT, projected onto a triangular mel filterbank, and
log-compressed. All buffers are allocated once at construction; ExtractInto
performs no allocations and is safe to call from the capture loop.
*/
package features

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"wakeword/pkg/bitint"
)

const (
	// NumMels is the number of mel bands in every feature vector.
	NumMels = 40

	// FFTSize is the number of points in the analysis transform.
	FFTSize = 512

	// epsilon bounds the log compression so silent frames land on a
	// fixed floor of log10(epsilon) = -10 instead of -Inf.
	epsilon = 1e-10
)

var (
	ErrInvalidSampleRate = errors.New("features: sample rate must be positive")
	ErrInvalidFrame      = errors.New("features: nil or empty audio frame")
	ErrBadOutputLen      = errors.New("features: output length must equal the mel band count")
	ErrNotReady          = errors.New("features: extractor not initialized")
)

// Extractor holds the precomputed window, filterbank, FFT plan, and working
// buffers for feature extraction. It carries no cross-call state: the same
// frame always produces the same vector.
type Extractor struct {
	sampleRate int
	fftSize    int
	numMels    int

	fft        *fourier.FFT
	window     []float64
	filterbank [][]float64

	// Workspace reused across calls.
	input     []float64
	coeffs    []complex128
	magnitude []float64
}

// NewExtractor precomputes the Hann window and mel filterbank for the given
// sample rate and returns a ready extractor.
func NewExtractor(sampleRate int) (*Extractor, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if !bitint.IsPowerOfTwo(FFTSize) {
		return nil, errors.New("features: FFT size must be a power of 2")
	}

	window := make([]float64, FFTSize)
	for i := range FFTSize {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(FFTSize-1)))
	}

	numBins := FFTSize/2 + 1

	return &Extractor{
		sampleRate: sampleRate,
		fftSize:    FFTSize,
		numMels:    NumMels,
		fft:        fourier.NewFFT(FFTSize),
		window:     window,
		filterbank: melFilterbank(NumMels, FFTSize, float64(sampleRate)),
		input:      make([]float64, FFTSize),
		coeffs:     make([]complex128, numBins),
		magnitude:  make([]float64, numBins),
	}, nil
}

// NumMels returns the length of every feature vector.
func (e *Extractor) NumMels() int { return e.numMels }

// FFTSize returns the number of transform points.
func (e *Extractor) FFTSize() int { return e.fftSize }

// SampleRate returns the sample rate the filterbank was built for.
func (e *Extractor) SampleRate() int { return e.sampleRate }

// ExtractInto computes the log-mel feature vector for one audio frame into
// out, which must have length NumMels. Samples beyond the frame length are
// zero padded; samples beyond the FFT size are truncated. The call performs
// no allocations.
func (e *Extractor) ExtractInto(frame []int16, out []float32) error {
	if e == nil || e.fft == nil {
		return ErrNotReady
	}
	if len(frame) == 0 {
		return ErrInvalidFrame
	}
	if len(out) != e.numMels {
		return ErrBadOutputLen
	}

	for i := range e.fftSize {
		if i < len(frame) {
			e.input[i] = float64(frame[i]) / 32768.0 * e.window[i]
		} else {
			e.input[i] = 0
		}
	}

	e.fft.Coefficients(e.coeffs, e.input)
	for i := range e.coeffs {
		e.magnitude[i] = cmplx.Abs(e.coeffs[i])
	}

	for m, row := range e.filterbank {
		out[m] = float32(math.Log10(floats.Dot(row, e.magnitude) + epsilon))
	}
	return nil
}

// Extract is the allocating convenience form of ExtractInto.
func (e *Extractor) Extract(frame []int16) ([]float32, error) {
	if e == nil || e.fft == nil {
		return nil, ErrNotReady
	}
	out := make([]float32, e.numMels)
	if err := e.ExtractInto(frame, out); err != nil {
		return nil, err
	}
	return out, nil
}
