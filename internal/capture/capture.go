// SPDX-License-Identifier: MIT
// Package capture provides frame-oriented audio sources for the detection
// pipeline: a live PortAudio microphone stream and a WAV file reader for
// offline scanning. Both deliver fixed-size frames of 16 kHz-domain mono
// int16 samples, the detector's native input.
package capture

// Source delivers audio one fixed-size frame at a time. Read fills the
// entire frame or returns an error; io.EOF signals a finite source is
// exhausted.
type Source interface {
	Read(frame []int16) error
	Close() error
}
