// SPDX-License-Identifier: MIT
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"wakeword/cmd"
	"wakeword/internal/capture"
	"wakeword/internal/config"
	applog "wakeword/internal/log"
	"wakeword/internal/model"
	"wakeword/internal/transport"
	"wakeword/internal/transport/udp"
	"wakeword/internal/wakeword"
	"wakeword/pkg/build"
)

// main runs in three phases:
//
//  1. Startup (cold path): build info, CLI parsing, configuration, and
//     one-off commands that never touch the audio pipeline.
//  2. Detection (hot path): the capture loop feeding frames into the
//     detector, with transports fanning events out.
//  3. Shutdown (cold path): signal-driven teardown in reverse order of
//     construction.
func main() {
	build.Initialize()

	opts, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		applog.Fatalf("%v", err)
	}
	applyCLIOverrides(cfg, opts)

	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	} else {
		applog.Warnf("unknown log level %q, keeping info", cfg.LogLevel)
	}
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	}

	switch opts.Command {
	case cmd.CommandList:
		if err := runList(); err != nil {
			applog.Fatalf("%v", err)
		}
	case cmd.CommandInfo:
		if err := runInfo(opts.TargetPath); err != nil {
			applog.Fatalf("%v", err)
		}
	case cmd.CommandScan:
		if err := runScan(cfg, opts.TargetPath); err != nil {
			applog.Fatalf("%v", err)
		}
	default:
		if err := runLive(cfg); err != nil {
			applog.Fatalf("%v", err)
		}
	}
}

// applyCLIOverrides lets explicit flags win over the config file.
func applyCLIOverrides(cfg *config.Config, opts *cmd.Options) {
	if opts.ModelPath != "" {
		cfg.Detector.ModelPath = opts.ModelPath
	}
	if opts.ThresholdSet {
		cfg.Detector.Threshold = opts.Threshold
	}
	if opts.DeviceSet {
		cfg.Audio.InputDevice = opts.DeviceID
	}
	if opts.Verbose {
		cfg.Debug = true
	}
}

func runList() error {
	if err := capture.Initialize(); err != nil {
		return err
	}
	defer capture.Terminate()
	return capture.ListDevices()
}

// runInfo prints a model blob's identity and shape without running it.
func runInfo(path string) error {
	m, err := model.Load(path)
	if err != nil {
		return err
	}

	fmt.Printf("Model: %s\n", path)
	fmt.Printf("  Label:          %s\n", m.Label)
	fmt.Printf("  Schema version: %d\n", m.SchemaVersion)
	fmt.Printf("  Input size:     %d\n", m.InputSize)
	fmt.Printf("  Hidden size:    %d\n", m.HiddenSize)
	fmt.Printf("  Output size:    %d\n", m.OutputSize)
	fmt.Printf("  Parameters:     %d\n",
		len(m.W1)+len(m.B1)+len(m.W2)+len(m.B2))
	return nil
}

// runScan feeds a WAV file through the detector frame by frame and
// reports every detection with its offset into the file.
func runScan(cfg *config.Config, path string) error {
	frameDuration := time.Duration(cfg.Audio.FrameSizeMS) * time.Millisecond

	var frameIndex int
	detections := 0
	callback := func(label string, confidence float32, _ time.Time) {
		detections++
		offset := time.Duration(frameIndex) * frameDuration
		fmt.Printf("%8s  detected %q (confidence %.2f)\n", offset, label, confidence)
	}

	detector, err := wakeword.New(cfg.DetectorParams(), callback)
	if err != nil {
		return err
	}
	defer detector.Close()

	src, err := capture.OpenWAV(path, cfg.Audio.SampleRate)
	if err != nil {
		return err
	}
	defer src.Close()

	frame := make([]int16, detector.InputRequirements())
	for {
		if err := src.Read(frame); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := detector.ProcessAudio(frame); err != nil {
			return err
		}
		frameIndex++
	}

	stats := detector.GetStatistics()
	fmt.Printf("\nScanned %d frames (%s of audio): %d detection(s)\n",
		stats.FramesProcessed,
		time.Duration(stats.FramesProcessed)*frameDuration,
		detections)
	return nil
}

// runLive captures from the microphone until SIGINT/SIGTERM.
func runLive(cfg *config.Config) error {
	if err := capture.Initialize(); err != nil {
		return err
	}
	defer capture.Terminate()

	// Transports are optional; detection runs fine without any.
	var eventSink transport.Transport
	if cfg.Transport.WSEnabled {
		eventSink = transport.NewWebSocketTransport(fmt.Sprintf(":%d", cfg.Transport.WSPort))
		defer eventSink.Close()
	}

	callback := func(label string, confidence float32, ts time.Time) {
		fmt.Printf("Detected %q (confidence %.2f)\n", label, confidence)
		if eventSink != nil {
			eventSink.Send(transport.NewDetectionEvent(label, confidence, ts))
		}
	}

	detector, err := wakeword.New(cfg.DetectorParams(), callback)
	if err != nil {
		return err
	}
	defer detector.Close()

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		defer sender.Close()

		publisher, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender, detector)
		if err != nil {
			return err
		}
		publisher.Start()
		defer publisher.Stop()
	}

	mic, err := capture.OpenMic(cfg.Audio.InputDevice, cfg.Audio.SampleRate, detector.InputRequirements())
	if err != nil {
		return err
	}
	defer mic.Close()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	captureErr := make(chan error, 1)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		frame := make([]int16, detector.InputRequirements())
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := mic.Read(frame); err != nil {
				captureErr <- err
				return
			}
			if err := detector.ProcessAudio(frame); err != nil {
				captureErr <- err
				return
			}
		}
	}()

	applog.Infof("listening for %q (Ctrl-C to stop)", detector.Label())

	// The capture goroutine must be fully stopped before the detector is
	// snapshotted and the deferred closes run; a blocked Read returns
	// within one frame period, so the wait is bounded.
	select {
	case sig := <-done:
		applog.Infof("received %s, shutting down", sig)
		close(stop)
		wg.Wait()
	case err := <-captureErr:
		close(stop)
		wg.Wait()
		return err
	}

	stats := detector.GetStatistics()
	applog.Infof("session: frames=%d detections=%d preproc_errs=%d infer_errs=%d avg_preproc=%s avg_infer=%s",
		stats.FramesProcessed, stats.DetectionsEmitted,
		stats.PreprocessingErrors, stats.InferenceErrors,
		stats.AvgPreprocessing, stats.AvgInference)
	return nil
}
