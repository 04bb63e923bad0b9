// SPDX-License-Identifier: MIT
// Package vad provides a minimal energy-based activity gate. It is not a
// speech detector; it only decides whether a frame carries enough signal
// to be worth scoring, so the wake word pipeline can skip silence cheaply.
package vad

// Gate compares a frame's peak amplitude against a threshold in [0, 1],
// where 0 passes everything and 1 passes nothing.
type Gate struct {
	Threshold float64
}

// Active reports whether the frame's peak amplitude reaches the threshold.
// The scan is branchless and allocation free.
func (g Gate) Active(frame []int16) bool {
	if g.Threshold <= 0 {
		return true
	}

	var maxAmplitude int32
	for _, s := range frame {
		v := int32(s)
		// Absolute value without branching.
		mask := v >> 31
		amp := (v ^ mask) - mask
		// Max without branching.
		diff := amp - maxAmplitude
		maxAmplitude += (diff & (diff >> 31)) ^ diff
	}

	return maxAmplitude >= int32(g.Threshold*32767.0)
}
