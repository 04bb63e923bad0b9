// SPDX-License-Identifier: MIT
package wakeword

import (
	"errors"
	"testing"
	"time"

	"wakeword/internal/features"
	"wakeword/internal/inference"
	"wakeword/internal/model"
)

const testFrameSize = 1280 // 80 ms at 16 kHz

// scriptedEngine plays back a fixed confidence sequence, one value per
// Invoke, and records how often it was called.
type scriptedEngine struct {
	inputSize int
	scores    []float32
	calls     int
	failWith  error
	lastInput []float32
}

func newScriptedEngine(scores ...float32) *scriptedEngine {
	return &scriptedEngine{inputSize: features.NumMels, scores: scores}
}

func (s *scriptedEngine) InputSize() int  { return s.inputSize }
func (s *scriptedEngine) OutputSize() int { return 1 }
func (s *scriptedEngine) Close() error    { return nil }

func (s *scriptedEngine) Invoke(input []float32, output []float32) (int, error) {
	if s.failWith != nil {
		return 0, s.failWith
	}
	s.lastInput = append(s.lastInput[:0], input...)
	idx := min(s.calls, len(s.scores)-1)
	s.calls++
	output[0] = s.scores[idx]
	return 1, nil
}

// manualClock advances only when the test says so, making cooldown
// windows deterministic in frame units.
type manualClock struct {
	t time.Time
}

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordedDetection struct {
	label      string
	confidence float32
}

func newTestDetector(t *testing.T, cfg Config, engine inference.Engine, clk *manualClock) (*Detector, *[]recordedDetection) {
	t.Helper()
	var events []recordedDetection
	cb := func(label string, confidence float32, _ time.Time) {
		events = append(events, recordedDetection{label, confidence})
	}
	d, err := New(cfg, cb, WithEngine(engine), WithClock(clk.now))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, &events
}

func TestCooldownSuppression(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	engine := newScriptedEngine(0.3, 0.6, 0.7, 0.4)
	d, events := newTestDetector(t, Config{Threshold: 0.5, CooldownMS: 160}, engine, clk)

	frame := make([]int16, testFrameSize)
	for range 4 {
		if err := d.ProcessAudio(frame); err != nil {
			t.Fatalf("ProcessAudio failed: %v", err)
		}
		clk.advance(80 * time.Millisecond)
	}

	stats := d.GetStatistics()
	if stats.DetectionsEmitted != 1 {
		t.Errorf("detections: got %d, want 1", stats.DetectionsEmitted)
	}
	if stats.FramesProcessed != 4 {
		t.Errorf("frames: got %d, want 4", stats.FramesProcessed)
	}
	if len(*events) != 1 {
		t.Fatalf("callbacks: got %d, want 1", len(*events))
	}
	if (*events)[0].confidence != 0.6 {
		t.Errorf("detection fired at confidence %f, want 0.6", (*events)[0].confidence)
	}
}

func TestCooldownExpiryAllowsNextDetection(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	// Frame 1 triggers; frames 2-3 sit inside the window; frame 4
	// crosses the deadline and must not retrigger itself; frame 5 may.
	engine := newScriptedEngine(0.9, 0.9, 0.9, 0.9, 0.9)
	d, events := newTestDetector(t, Config{Threshold: 0.5, CooldownMS: 200}, engine, clk)

	frame := make([]int16, testFrameSize)
	for range 5 {
		if err := d.ProcessAudio(frame); err != nil {
			t.Fatalf("ProcessAudio failed: %v", err)
		}
		clk.advance(80 * time.Millisecond)
	}

	if got := len(*events); got != 2 {
		t.Errorf("callbacks: got %d, want 2 (trigger, cooldown, cooldown, expiry frame, trigger)", got)
	}
}

func TestThresholdBoundary(t *testing.T) {
	tests := []struct {
		score      float32
		wantDetect bool
	}{
		{0.5, true},     // exactly at threshold triggers
		{0.4999, false}, // just below does not
	}

	for _, tt := range tests {
		clk := &manualClock{t: time.Unix(0, 0)}
		d, events := newTestDetector(t, Config{Threshold: 0.5}, newScriptedEngine(tt.score), clk)

		if err := d.ProcessAudio(make([]int16, testFrameSize)); err != nil {
			t.Fatalf("ProcessAudio failed: %v", err)
		}
		if got := len(*events) == 1; got != tt.wantDetect {
			t.Errorf("score %f: detected=%v, want %v", tt.score, got, tt.wantDetect)
		}
	}
}

func TestZeroThresholdTakesDefault(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	// Threshold 0 is the unset zero value, not an always-trigger
	// setting: the default of 0.5 applies.
	d, events := newTestDetector(t, Config{}, newScriptedEngine(0.45, 0.5), clk)

	frame := make([]int16, testFrameSize)
	for range 2 {
		if err := d.ProcessAudio(frame); err != nil {
			t.Fatalf("ProcessAudio failed: %v", err)
		}
	}

	if len(*events) != 1 {
		t.Fatalf("callbacks: got %d, want 1", len(*events))
	}
	if (*events)[0].confidence != 0.5 {
		t.Errorf("detection fired at confidence %f, want 0.5", (*events)[0].confidence)
	}
}

func TestStatisticsConcurrentWithProcessing(t *testing.T) {
	d, err := New(Config{}, nil, WithEngine(newScriptedEngine(0.9)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Close()

	// One goroutine processes frames while the main goroutine snapshots
	// statistics, mirroring the UDP publisher's wiring. Run under -race.
	frame := make([]int16, testFrameSize)
	const frames = 500
	processed := make(chan struct{})
	go func() {
		defer close(processed)
		for range frames {
			if err := d.ProcessAudio(frame); err != nil {
				t.Errorf("ProcessAudio failed: %v", err)
				return
			}
		}
	}()

	for snapshotting := true; snapshotting; {
		select {
		case <-processed:
			snapshotting = false
		default:
			_ = d.GetStatistics()
		}
	}

	if got := d.GetStatistics().FramesProcessed; got != frames {
		t.Errorf("frames: got %d, want %d", got, frames)
	}
}

func TestMalformedFrameRecovery(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	engine := newScriptedEngine(0.1)
	d, events := newTestDetector(t, Config{}, engine, clk)

	if err := d.ProcessAudio(make([]int16, 100)); err != nil {
		t.Fatalf("short frame returned error: %v", err)
	}
	if err := d.ProcessAudio(nil); err != nil {
		t.Fatalf("nil frame returned error: %v", err)
	}
	if err := d.ProcessAudio(make([]int16, testFrameSize)); err != nil {
		t.Fatalf("valid frame failed: %v", err)
	}

	stats := d.GetStatistics()
	if stats.PreprocessingErrors != 2 {
		t.Errorf("preprocessing errors: got %d, want 2", stats.PreprocessingErrors)
	}
	if stats.FramesProcessed != 3 {
		t.Errorf("frames: got %d, want 3", stats.FramesProcessed)
	}
	if engine.calls != 1 {
		t.Errorf("engine calls: got %d, want 1 (only the valid frame)", engine.calls)
	}
	if len(*events) != 0 {
		t.Errorf("no detections expected, got %d", len(*events))
	}
}

func TestInferenceFailureRecovery(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	engine := newScriptedEngine(0.9)
	engine.failWith = inference.ErrInvoke
	d, events := newTestDetector(t, Config{}, engine, clk)

	if err := d.ProcessAudio(make([]int16, testFrameSize)); err != nil {
		t.Fatalf("ProcessAudio returned error: %v", err)
	}

	stats := d.GetStatistics()
	if stats.InferenceErrors != 1 {
		t.Errorf("inference errors: got %d, want 1", stats.InferenceErrors)
	}
	if len(*events) != 0 {
		t.Errorf("no detections expected, got %d", len(*events))
	}

	// The engine recovers; the next frame scores normally.
	engine.failWith = nil
	if err := d.ProcessAudio(make([]int16, testFrameSize)); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if len(*events) != 1 {
		t.Errorf("expected detection after recovery, got %d", len(*events))
	}
}

func TestTestModeFallback(t *testing.T) {
	var events []recordedDetection
	cb := func(label string, confidence float32, _ time.Time) {
		events = append(events, recordedDetection{label, confidence})
	}
	clk := &manualClock{t: time.Unix(0, 0)}

	// No model and no injected engine: the unavailable backend is
	// selected and the energy heuristic scores frames.
	d, err := New(Config{}, cb, WithClock(clk.now))
	if err != nil {
		t.Fatalf("New without model failed: %v", err)
	}
	defer d.Close()

	// Silence scores 0: no detection.
	if err := d.ProcessAudio(make([]int16, testFrameSize)); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("silence should not trigger, got %d detections", len(events))
	}

	// Mean |amplitude| of 16384 is exactly 0.5, meeting the default
	// threshold.
	loud := make([]int16, testFrameSize)
	for i := range loud {
		loud[i] = 16384
	}
	if err := d.ProcessAudio(loud); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("loud frame should trigger in test mode, got %d detections", len(events))
	}
	if events[0].confidence != 0.5 {
		t.Errorf("confidence: got %f, want 0.5", events[0].confidence)
	}

	stats := d.GetStatistics()
	if !stats.TestMode || stats.ModelLoaded {
		t.Errorf("stats flags: test_mode=%v model_loaded=%v", stats.TestMode, stats.ModelLoaded)
	}
	if stats.FramesProcessed != 2 {
		t.Errorf("frames: got %d, want 2", stats.FramesProcessed)
	}
	if stats.InferenceErrors != 0 {
		t.Errorf("NotSupported must not count as an inference error, got %d", stats.InferenceErrors)
	}
}

func TestVADGateSkipsQuietFrames(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	engine := newScriptedEngine(0.9)
	d, events := newTestDetector(t, Config{EnableVAD: true, VADThreshold: 0.5}, engine, clk)

	quiet := make([]int16, testFrameSize)
	for i := range quiet {
		quiet[i] = 100
	}
	if err := d.ProcessAudio(quiet); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if engine.calls != 0 {
		t.Errorf("quiet frame should not reach the engine, calls=%d", engine.calls)
	}

	loud := make([]int16, testFrameSize)
	for i := range loud {
		loud[i] = 30000
	}
	if err := d.ProcessAudio(loud); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if engine.calls != 1 {
		t.Errorf("loud frame should be scored, calls=%d", engine.calls)
	}

	stats := d.GetStatistics()
	if stats.FramesProcessed != 2 {
		t.Errorf("gated frames still count: got %d, want 2", stats.FramesProcessed)
	}
	if len(*events) != 1 {
		t.Errorf("detections: got %d, want 1", len(*events))
	}
}

func TestSlidingWindowStacking(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	engine := newScriptedEngine(0.1)
	engine.inputSize = 2 * features.NumMels // model wants two stacked vectors
	d, _ := newTestDetector(t, Config{}, engine, clk)

	frame := make([]int16, testFrameSize)
	if err := d.ProcessAudio(frame); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if engine.calls != 0 {
		t.Fatalf("warm-up frame must not invoke, calls=%d", engine.calls)
	}

	if err := d.ProcessAudio(frame); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if engine.calls != 1 {
		t.Fatalf("second frame should invoke, calls=%d", engine.calls)
	}
	if len(engine.lastInput) != 2*features.NumMels {
		t.Errorf("stacked input length: got %d, want %d", len(engine.lastInput), 2*features.NumMels)
	}

	if err := d.ProcessAudio(frame); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if engine.calls != 2 {
		t.Errorf("window should slide, not refill: calls=%d, want 2", engine.calls)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		desc string
		cfg  Config
	}{
		{"threshold below range", Config{Threshold: -0.1}},
		{"threshold above range", Config{Threshold: 1.1}},
		{"negative sample rate", Config{SampleRate: -16000}},
		{"negative frame size", Config{FrameSizeMS: -80}},
		{"negative cooldown", Config{CooldownMS: -1}},
		{"negative arena", Config{ArenaSize: -1}},
		{"vad threshold above range", Config{VADThreshold: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := New(tt.cfg, nil); !errors.Is(err, ErrConfig) {
				t.Errorf("got %v, want ErrConfig", err)
			}
		})
	}
}

func buildTestBlob(t *testing.T, inputSize, schemaVersion int, label string) []byte {
	t.Helper()
	m := &model.Model{
		SchemaVersion: uint32(schemaVersion),
		InputSize:     inputSize,
		HiddenSize:    4,
		OutputSize:    1,
		Label:         label,
		W1:            make([]float32, 4*inputSize),
		B1:            make([]float32, 4),
		W2:            make([]float32, 4),
		B2:            []float32{2}, // sigmoid(2) ~ 0.88 for any input
	}
	for i := range m.W1 {
		m.W1[i] = float32(i%7) * 0.01
	}
	blob, err := model.Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return blob
}

func TestModelSchemaMismatchFatal(t *testing.T) {
	blob := buildTestBlob(t, features.NumMels, int(model.SchemaVersion)+1, "hey_naptick")

	d, err := New(Config{ModelBlob: blob}, nil)
	if !errors.Is(err, model.ErrSchemaVersion) {
		t.Errorf("got %v, want ErrSchemaVersion", err)
	}
	if d != nil {
		t.Error("no detector must be returned on model failure")
	}
}

func TestArenaExhaustionFatal(t *testing.T) {
	blob := buildTestBlob(t, features.NumMels, int(model.SchemaVersion), "hey_naptick")

	if _, err := New(Config{ModelBlob: blob, ArenaSize: 8}, nil); !errors.Is(err, inference.ErrArena) {
		t.Errorf("got %v, want ErrArena", err)
	}
}

func TestModelInputNotMultipleOfMels(t *testing.T) {
	blob := buildTestBlob(t, features.NumMels+1, int(model.SchemaVersion), "hey_naptick")

	if _, err := New(Config{ModelBlob: blob}, nil); !errors.Is(err, ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestRealModelEndToEnd(t *testing.T) {
	blob := buildTestBlob(t, features.NumMels, int(model.SchemaVersion), "hey_naptick")

	var events []recordedDetection
	cb := func(label string, confidence float32, _ time.Time) {
		events = append(events, recordedDetection{label, confidence})
	}
	clk := &manualClock{t: time.Unix(0, 0)}
	d, err := New(Config{ModelBlob: blob}, cb, WithClock(clk.now))
	if err != nil {
		t.Fatalf("New with model failed: %v", err)
	}
	defer d.Close()

	if d.Label() != "hey_naptick" {
		t.Errorf("label from blob: got %q", d.Label())
	}
	if d.InputRequirements() != testFrameSize {
		t.Errorf("input requirements: got %d, want %d", d.InputRequirements(), testFrameSize)
	}

	// B2=2 pushes the sigmoid above the default threshold on any frame.
	if err := d.ProcessAudio(make([]int16, testFrameSize)); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("detections: got %d, want 1", len(events))
	}
	if events[0].label != "hey_naptick" {
		t.Errorf("callback label: got %q", events[0].label)
	}

	stats := d.GetStatistics()
	if !stats.ModelLoaded || stats.TestMode {
		t.Errorf("stats flags: model_loaded=%v test_mode=%v", stats.ModelLoaded, stats.TestMode)
	}
}

func TestPipelineDeterminism(t *testing.T) {
	blob := buildTestBlob(t, features.NumMels, int(model.SchemaVersion), "hey_naptick")
	clk := &manualClock{t: time.Unix(0, 0)}

	// Threshold 1.0 keeps the state machine quiet so both frames score.
	d, err := New(Config{ModelBlob: blob, Threshold: 1.0}, nil, WithClock(clk.now))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Close()

	frame := make([]int16, testFrameSize)
	for i := range frame {
		frame[i] = int16((i%200 - 100) * 50)
	}

	if err := d.ProcessAudio(frame); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	first := d.GetStatistics().LastConfidence
	if err := d.ProcessAudio(frame); err != nil {
		t.Fatalf("ProcessAudio failed: %v", err)
	}
	second := d.GetStatistics().LastConfidence

	if first != second {
		t.Errorf("same frame scored differently: %f != %f", first, second)
	}
}

func TestStatisticsSnapshotAndReset(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	engine := newScriptedEngine(0.1)
	d, _ := newTestDetector(t, Config{}, engine, clk)

	frame := make([]int16, testFrameSize)
	for range 3 {
		if err := d.ProcessAudio(frame); err != nil {
			t.Fatalf("ProcessAudio failed: %v", err)
		}
	}

	before := d.GetStatistics()
	if before.FramesProcessed != 3 {
		t.Errorf("frames: got %d, want 3", before.FramesProcessed)
	}

	// Snapshots do not reset.
	if again := d.GetStatistics(); again.FramesProcessed != 3 {
		t.Errorf("snapshot reset the counters: %d", again.FramesProcessed)
	}

	d.ResetStatistics()
	after := d.GetStatistics()
	if after.FramesProcessed != 0 || after.DetectionsEmitted != 0 {
		t.Errorf("reset left counters: %+v", after)
	}
}

func TestProcessAudioAfterClose(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	d, _ := newTestDetector(t, Config{}, newScriptedEngine(0.1), clk)

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := d.ProcessAudio(make([]int16, testFrameSize)); !errors.Is(err, ErrNotReady) {
		t.Errorf("got %v, want ErrNotReady", err)
	}
}
