// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	applog "wakeword/internal/log"
)

// Initialize sets up the PortAudio subsystem. Must be called before any
// live capture and paired with Terminate.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate shuts down the PortAudio subsystem. Defer immediately after
// a successful Initialize.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// InputDevice returns the input device for deviceID, or the system
// default input device when deviceID is -1.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == -1 {
		return portaudio.DefaultInputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	return devices[deviceID], nil
}

// ListDevices prints every available audio device with its capabilities.
func ListDevices() error {
	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}

	fmt.Printf("\nAvailable Audio Devices\n\n")
	for i, device := range devices {
		deviceType := ""
		switch {
		case device.MaxInputChannels > 0 && device.MaxOutputChannels > 0:
			deviceType = "Input/Output"
		case device.MaxInputChannels > 0:
			deviceType = "Input"
		case device.MaxOutputChannels > 0:
			deviceType = "Output"
		}

		fmt.Printf("[%d] %s (%s)\n", i, device.Name, deviceType)
		fmt.Printf("    Input channels: %d, Output channels: %d\n",
			device.MaxInputChannels, device.MaxOutputChannels)
		fmt.Printf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)
		fmt.Printf("    Latency: Low=%.2fms, High=%.2fms\n",
			device.DefaultLowInputLatency.Seconds()*1000,
			device.DefaultHighInputLatency.Seconds()*1000)
		fmt.Println()
	}
	return nil
}

// MicSource captures mono int16 frames from a PortAudio input stream
// using the blocking read API. The capture loop owns the pacing; no
// callback thread is involved.
type MicSource struct {
	stream *portaudio.Stream
	buf    []int16
}

// OpenMic opens an input stream on the given device delivering frameSize
// samples per Read at sampleRate. PortAudio must already be initialized.
func OpenMic(deviceID, sampleRate, frameSize int) (*MicSource, error) {
	device, err := InputDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("capture: resolve input device: %w", err)
	}

	s := &MicSource{buf: make([]int16, frameSize)}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   device,
			Latency:  device.DefaultHighInputLatency,
		},
		FramesPerBuffer: frameSize,
		SampleRate:      float64(sampleRate),
	}

	stream, err := portaudio.OpenStream(params, s.buf)
	if err != nil {
		return nil, fmt.Errorf("capture: open stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("capture: start stream: %w", err)
	}
	s.stream = stream

	applog.Infof("capture: microphone open (device=%s rate=%d frame=%d samples)",
		device.Name, sampleRate, frameSize)
	return s, nil
}

// Read blocks until a full frame has been captured and copies it into
// frame. len(frame) must equal the frameSize the source was opened with.
func (s *MicSource) Read(frame []int16) error {
	if len(frame) != len(s.buf) {
		return fmt.Errorf("capture: frame length %d, stream delivers %d", len(frame), len(s.buf))
	}
	if err := s.stream.Read(); err != nil {
		return fmt.Errorf("capture: stream read: %w", err)
	}
	copy(frame, s.buf)
	return nil
}

// Close stops and closes the stream.
func (s *MicSource) Close() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		s.stream = nil
		return fmt.Errorf("capture: stop stream: %w", err)
	}
	err := s.stream.Close()
	s.stream = nil
	if err != nil {
		return fmt.Errorf("capture: close stream: %w", err)
	}
	return nil
}

var _ Source = (*MicSource)(nil)
