// SPDX-License-Identifier: MIT
/*
Package wakeword sequences feature extraction and model inference over a
stream of fixed-size PCM frames and turns confidence scores into debounced
detection events.

The Detector is single-owner and call-driven: the capture loop calls
ProcessAudio once per completed frame, all work happens synchronously
inside that call, and nothing in the package spawns goroutines or blocks
on I/O. Callers that share a Detector across goroutines must serialize
ProcessAudio themselves; GetStatistics and ResetStatistics are safe to
call from any goroutine while frames are being processed.
*/
package wakeword

import (
	"errors"
	"fmt"
	"math"
	"time"

	"wakeword/internal/features"
	"wakeword/internal/inference"
	applog "wakeword/internal/log"
	"wakeword/internal/model"
	"wakeword/internal/vad"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultLabel       = "wakeword"
	DefaultThreshold   = 0.5
	DefaultSampleRate  = 16000
	DefaultFrameSizeMS = 80
	DefaultCooldownMS  = 2000
	DefaultArenaSize   = 64 << 10
)

var (
	ErrConfig   = errors.New("wakeword: invalid configuration")
	ErrNotReady = errors.New("wakeword: detector not initialized")
)

// Config holds the detector's construction parameters. Zero values take
// the package defaults above; explicit invalid values fail New.
type Config struct {
	Label     string // wake word name reported to the callback; a model label overrides it
	ModelPath string // model blob on disk; empty with nil ModelBlob selects test mode
	ModelBlob []byte // model blob bytes; takes precedence over ModelPath

	Threshold   float64 // detection threshold in (0, 1]; 0 means unset and takes DefaultThreshold
	SampleRate  int     // Hz
	FrameSizeMS int     // frame duration in milliseconds
	CooldownMS  int     // debounce window after a detection
	ArenaSize   int     // inference arena size in bytes

	EnableVAD    bool    // gate frames on energy before scoring
	VADThreshold float64 // gate threshold in [0, 1]
}

// Callback receives detection events, synchronously from ProcessAudio, at
// most once per frame. Context travels by closure capture.
type Callback func(label string, confidence float32, ts time.Time)

type phase uint8

const (
	phaseIdle phase = iota
	phaseCooldown
)

// Detector owns the feature extractor and inference engine and applies the
// threshold/cooldown decision policy per frame.
type Detector struct {
	cfg      Config
	label    string
	callback Callback
	now      func() time.Time

	extractor *features.Extractor
	engine    inference.Engine
	gate      vad.Gate

	frameSize    int // samples per frame
	windowFrames int // feature vectors stacked per invoke
	cooldown     time.Duration

	// Per-frame workspace, allocated once.
	melBuf         []float32
	windowBuf      []float32
	outBuf         []float32
	framesBuffered int

	phase            phase
	cooldownDeadline time.Time

	stats  counters
	closed bool
}

// Option adjusts a Detector at construction.
type Option func(*Detector)

// WithEngine injects an inference engine, bypassing model loading. Tests
// use this to substitute a fake without touching the filesystem.
func WithEngine(e inference.Engine) Option {
	return func(d *Detector) { d.engine = e }
}

// WithClock injects the time source used for cooldown bookkeeping and
// timing statistics.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New builds a Detector. Configuration problems, model load/parse
// failures, and arena exhaustion are all fatal here: a half-initialized
// pipeline must not process frames. Omitting the model entirely is the
// one sanctioned degradation; it selects the unavailable engine and the
// energy-heuristic test mode.
func New(cfg Config, callback Callback, opts ...Option) (*Detector, error) {
	applyDefaults(&cfg)

	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v outside [0,1]", ErrConfig, cfg.Threshold)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrConfig, cfg.SampleRate)
	}
	if cfg.FrameSizeMS <= 0 {
		return nil, fmt.Errorf("%w: frame size %d ms", ErrConfig, cfg.FrameSizeMS)
	}
	if cfg.CooldownMS < 0 {
		return nil, fmt.Errorf("%w: cooldown %d ms", ErrConfig, cfg.CooldownMS)
	}
	if cfg.ArenaSize <= 0 {
		return nil, fmt.Errorf("%w: arena size %d", ErrConfig, cfg.ArenaSize)
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return nil, fmt.Errorf("%w: vad threshold %v outside [0,1]", ErrConfig, cfg.VADThreshold)
	}

	extractor, err := features.NewExtractor(cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	d := &Detector{
		cfg:       cfg,
		label:     cfg.Label,
		callback:  callback,
		now:       time.Now,
		extractor: extractor,
		gate:      vad.Gate{Threshold: cfg.VADThreshold},
		frameSize: cfg.SampleRate * cfg.FrameSizeMS / 1000,
		cooldown:  time.Duration(cfg.CooldownMS) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.engine == nil {
		if err := d.buildEngine(); err != nil {
			return nil, err
		}
	}

	inputSize := d.engine.InputSize()
	if inputSize <= 0 || inputSize%extractor.NumMels() != 0 {
		d.engine.Close()
		return nil, fmt.Errorf("%w: model input size %d is not a multiple of %d mel bands",
			ErrConfig, inputSize, extractor.NumMels())
	}
	d.windowFrames = inputSize / extractor.NumMels()

	d.melBuf = make([]float32, extractor.NumMels())
	d.windowBuf = make([]float32, inputSize)
	d.outBuf = make([]float32, max(d.engine.OutputSize(), 1))

	applog.Infof("wakeword: detector ready (label=%s frame=%d samples window=%d threshold=%.2f cooldown=%s test_mode=%v)",
		d.label, d.frameSize, d.windowFrames, cfg.Threshold, d.cooldown, d.stats.testMode.Load())
	return d, nil
}

// buildEngine selects the inference backend once, at construction: a real
// arena runtime when a model was supplied, the unavailable stub otherwise.
func (d *Detector) buildEngine() error {
	var m *model.Model
	var err error

	switch {
	case len(d.cfg.ModelBlob) > 0:
		m, err = model.Parse(d.cfg.ModelBlob)
	case d.cfg.ModelPath != "":
		m, err = model.Load(d.cfg.ModelPath)
	default:
		applog.Warnf("wakeword: no model configured, running in test mode (energy heuristic)")
		d.engine = inference.NewUnavailable(d.extractor.NumMels(), 1)
		d.stats.testMode.Store(true)
		return nil
	}
	if err != nil {
		return fmt.Errorf("wakeword: load model: %w", err)
	}

	engine, err := inference.NewRuntime(m, d.cfg.ArenaSize)
	if err != nil {
		return fmt.Errorf("wakeword: bind model: %w", err)
	}
	d.engine = engine
	d.stats.modelLoaded.Store(true)
	if m.Label != "" {
		d.label = m.Label
	}
	applog.Infof("wakeword: model loaded (label=%s input=%d output=%d schema=%d)",
		m.Label, m.InputSize, m.OutputSize, m.SchemaVersion)
	return nil
}

// InputRequirements returns the exact number of samples ProcessAudio
// expects per frame, so the capture side can size its buffers.
func (d *Detector) InputRequirements() int { return d.frameSize }

// Label returns the wake word name reported on detection.
func (d *Detector) Label() string { return d.label }

// ProcessAudio scores one audio frame and applies the detection policy.
// Per-frame extraction and inference failures are recovered locally: the
// matching counter increments, the frame is dropped, and nil is returned
// so the capture loop keeps running. Only calling a closed detector is an
// error.
func (d *Detector) ProcessAudio(frame []int16) error {
	if d == nil || d.closed {
		return ErrNotReady
	}
	d.stats.frames.Add(1)

	if len(frame) != d.frameSize {
		d.stats.preprocErrs.Add(1)
		applog.Debugf("wakeword: dropped frame with %d samples, expected %d", len(frame), d.frameSize)
		return nil
	}

	if d.cfg.EnableVAD && !d.gate.Active(frame) {
		return nil
	}

	start := d.now()
	err := d.extractor.ExtractInto(frame, d.melBuf)
	d.stats.totalPreprocNS.Add(int64(d.now().Sub(start)))
	if err != nil {
		d.stats.preprocErrs.Add(1)
		applog.Debugf("wakeword: feature extraction failed: %v", err)
		return nil
	}
	d.stats.preprocCount.Add(1)

	// Slide the stacked feature window one vector to the left and append
	// the newest vector. Single-frame models skip the warm-up entirely.
	nm := len(d.melBuf)
	if d.windowFrames > 1 {
		copy(d.windowBuf, d.windowBuf[nm:])
	}
	copy(d.windowBuf[len(d.windowBuf)-nm:], d.melBuf)
	if d.framesBuffered < d.windowFrames {
		d.framesBuffered++
	}
	if d.framesBuffered < d.windowFrames {
		return nil
	}

	start = d.now()
	n, err := d.engine.Invoke(d.windowBuf, d.outBuf)
	d.stats.totalInferNS.Add(int64(d.now().Sub(start)))

	var confidence float32
	switch {
	case err == nil:
		d.stats.inferCount.Add(1)
		// Binary classifiers emit [other, wake]; single outputs are the
		// wake probability directly.
		if n >= 2 {
			confidence = d.outBuf[1]
		} else if n >= 1 {
			confidence = d.outBuf[0]
		}
	case errors.Is(err, inference.ErrNotSupported):
		confidence = energyScore(frame)
	default:
		d.stats.inferErrs.Add(1)
		applog.Debugf("wakeword: inference failed: %v", err)
		return nil
	}
	d.stats.lastConfidence.Store(math.Float32bits(confidence))

	d.applyPolicy(confidence)
	return nil
}

// applyPolicy runs the two-state decision machine. During cooldown frames
// are scored but never emit; the frame that crosses the deadline flips the
// phase back to idle without retriggering, so only a later frame can fire.
func (d *Detector) applyPolicy(confidence float32) {
	now := d.now()

	switch d.phase {
	case phaseCooldown:
		if !now.Before(d.cooldownDeadline) {
			d.phase = phaseIdle
		}
	case phaseIdle:
		if float64(confidence) >= d.cfg.Threshold {
			d.stats.detections.Add(1)
			d.phase = phaseCooldown
			if deadline := now.Add(d.cooldown); deadline.After(d.cooldownDeadline) {
				// The deadline only ever moves forward.
				d.cooldownDeadline = deadline
			}
			applog.Infof("wakeword: detected %q (confidence %.2f, threshold %.2f)",
				d.label, confidence, d.cfg.Threshold)
			if d.callback != nil {
				d.callback(d.label, confidence, now)
			}
		}
	}
}

// Close releases the inference engine. Idempotent; ProcessAudio fails
// with ErrNotReady afterwards. Not safe to call concurrently with
// ProcessAudio.
func (d *Detector) Close() error {
	if d == nil || d.closed {
		return nil
	}
	d.closed = true
	applog.Infof("wakeword: shutting down (frames=%d detections=%d)",
		d.stats.frames.Load(), d.stats.detections.Load())
	return d.engine.Close()
}

// energyScore is the test-mode stand-in for model confidence: mean
// absolute sample amplitude normalized to [0, 1].
func energyScore(frame []int16) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return float32(sum / float64(len(frame)) / 32768.0)
}

func applyDefaults(cfg *Config) {
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameSizeMS == 0 {
		cfg.FrameSizeMS = DefaultFrameSizeMS
	}
	if cfg.CooldownMS == 0 {
		cfg.CooldownMS = DefaultCooldownMS
	}
	if cfg.ArenaSize == 0 {
		cfg.ArenaSize = DefaultArenaSize
	}
}
