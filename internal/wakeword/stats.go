// SPDX-License-Identifier: MIT
package wakeword

import (
	"math"
	"sync/atomic"
	"time"
)

// counters is the detector's mutable state. ProcessAudio is the only
// writer, but the statistics publisher snapshots from its own goroutine,
// so every field is atomic.
type counters struct {
	frames      atomic.Uint64
	detections  atomic.Uint64
	preprocErrs atomic.Uint64
	inferErrs   atomic.Uint64

	preprocCount   atomic.Uint64
	inferCount     atomic.Uint64
	totalPreprocNS atomic.Int64
	totalInferNS   atomic.Int64

	lastConfidence atomic.Uint32 // float32 bits
	modelLoaded    atomic.Bool
	testMode       atomic.Bool
}

// Statistics is a point-in-time snapshot of the detector's counters.
// Reading it never resets anything.
type Statistics struct {
	FramesProcessed     uint64
	DetectionsEmitted   uint64
	PreprocessingErrors uint64
	InferenceErrors     uint64

	LastConfidence   float32
	AvgPreprocessing time.Duration
	AvgInference     time.Duration

	ModelLoaded bool
	TestMode    bool
}

// GetStatistics returns a snapshot of all counters. Safe to call from any
// goroutine while ProcessAudio is running.
func (d *Detector) GetStatistics() Statistics {
	s := Statistics{
		FramesProcessed:     d.stats.frames.Load(),
		DetectionsEmitted:   d.stats.detections.Load(),
		PreprocessingErrors: d.stats.preprocErrs.Load(),
		InferenceErrors:     d.stats.inferErrs.Load(),
		LastConfidence:      math.Float32frombits(d.stats.lastConfidence.Load()),
		ModelLoaded:         d.stats.modelLoaded.Load(),
		TestMode:            d.stats.testMode.Load(),
	}
	if n := d.stats.preprocCount.Load(); n > 0 {
		s.AvgPreprocessing = time.Duration(d.stats.totalPreprocNS.Load() / int64(n))
	}
	if n := d.stats.inferCount.Load(); n > 0 {
		s.AvgInference = time.Duration(d.stats.totalInferNS.Load() / int64(n))
	}
	return s
}

// ResetStatistics zeroes every counter and timer. The detection phase and
// cooldown deadline are untouched; reset is a diagnostics operation, not
// a state machine reset. Safe to call from any goroutine.
func (d *Detector) ResetStatistics() {
	d.stats.frames.Store(0)
	d.stats.detections.Store(0)
	d.stats.preprocErrs.Store(0)
	d.stats.inferErrs.Store(0)
	d.stats.preprocCount.Store(0)
	d.stats.inferCount.Store(0)
	d.stats.totalPreprocNS.Store(0)
	d.stats.totalInferNS.Store(0)
	d.stats.lastConfidence.Store(0)
}
