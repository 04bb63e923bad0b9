// SPDX-License-Identifier: MIT
// Package config loads the application configuration from YAML, applies
// environment variable overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	applog "wakeword/internal/log"
	"wakeword/internal/wakeword"
)

// Limits for configuration validation.
const (
	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MinDeviceID   = -1     // -1 selects the system default device
)

// Config is the main application configuration, loaded from YAML.
type Config struct {
	Debug    bool   `yaml:"debug"`     // Verbose logging and debug features.
	LogLevel string `yaml:"log_level"` // "debug", "info", "warn", "error".

	Detector  DetectorConfig  `yaml:"detector"`  // Wake word detection settings.
	Audio     AudioConfig     `yaml:"audio"`     // Audio capture settings.
	Transport TransportConfig `yaml:"transport"` // Event/statistics publishing settings.
}

// DetectorConfig holds the wake word detector's tuning parameters.
type DetectorConfig struct {
	Label        string  `yaml:"label"`         // Wake word name; a model label overrides it.
	ModelPath    string  `yaml:"model_path"`    // Path to the model blob; empty selects test mode.
	Threshold    float64 `yaml:"threshold"`     // Detection threshold in [0, 1].
	CooldownMS   int     `yaml:"cooldown_ms"`   // Debounce window after a detection.
	ArenaSize    int     `yaml:"arena_size"`    // Inference arena size in bytes.
	EnableVAD    bool    `yaml:"enable_vad"`    // Gate frames on energy before scoring.
	VADThreshold float64 `yaml:"vad_threshold"` // Gate threshold in [0, 1].
}

// AudioConfig holds settings for the audio input side.
type AudioConfig struct {
	InputDevice int `yaml:"input_device"`  // PortAudio device index (-1 for default).
	SampleRate  int `yaml:"sample_rate"`   // Sample rate in Hz.
	FrameSizeMS int `yaml:"frame_size_ms"` // Frame duration handed to the detector.
}

// TransportConfig holds settings for publishing detection events and
// statistics over the network.
type TransportConfig struct {
	WSEnabled        bool          `yaml:"ws_enabled"`         // Serve detection events over WebSocket.
	WSPort           int           `yaml:"ws_port"`            // WebSocket listen port.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send statistics packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address for UDP packets.
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between statistics packets.
}

// Load reads configuration from the YAML file at path. An empty path
// searches default locations ("config.yaml"); when no file is found the
// built-in defaults apply. Environment overrides run after file loading
// and the final configuration is validated.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		candidates := []string{"config.yaml"}
		found := false
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				found = true
				break
			}
		}
		if !found {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Detector: DetectorConfig{
			Label:        wakeword.DefaultLabel,
			Threshold:    wakeword.DefaultThreshold,
			CooldownMS:   wakeword.DefaultCooldownMS,
			ArenaSize:    wakeword.DefaultArenaSize,
			EnableVAD:    false,
			VADThreshold: 0.02,
		},
		Audio: AudioConfig{
			InputDevice: -1,
			SampleRate:  wakeword.DefaultSampleRate,
			FrameSizeMS: wakeword.DefaultFrameSizeMS,
		},
		Transport: TransportConfig{
			WSEnabled:        false,
			WSPort:           8090,
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  time.Second,
		},
	}
}

// Validate checks the loaded configuration for values the pipeline cannot
// run with. Detector-level ranges are re-checked by the detector itself;
// the checks here fail early with configuration-oriented messages.
func (c *Config) Validate() error {
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate %d outside [%d, %d]",
			c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.FrameSizeMS <= 0 {
		return fmt.Errorf("audio.frame_size_ms must be positive, got %d", c.Audio.FrameSizeMS)
	}
	if c.Audio.InputDevice < MinDeviceID {
		return fmt.Errorf("audio.input_device %d is invalid", c.Audio.InputDevice)
	}
	if c.Detector.Threshold < 0 || c.Detector.Threshold > 1 {
		return fmt.Errorf("detector.threshold %v outside [0, 1]", c.Detector.Threshold)
	}
	if c.Detector.VADThreshold < 0 || c.Detector.VADThreshold > 1 {
		return fmt.Errorf("detector.vad_threshold %v outside [0, 1]", c.Detector.VADThreshold)
	}
	if c.Detector.CooldownMS < 0 {
		return fmt.Errorf("detector.cooldown_ms must not be negative, got %d", c.Detector.CooldownMS)
	}
	if c.Detector.ArenaSize <= 0 {
		return fmt.Errorf("detector.arena_size must be positive, got %d", c.Detector.ArenaSize)
	}
	if c.Transport.WSEnabled && (c.Transport.WSPort < 1 || c.Transport.WSPort > 65535) {
		return fmt.Errorf("transport.ws_port %d outside [1, 65535]", c.Transport.WSPort)
	}
	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address %q appears invalid (missing port?)",
				c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive")
		}
	}
	return nil
}

// DetectorParams maps the file-level detector and audio sections onto the
// detector package's construction parameters.
func (c *Config) DetectorParams() wakeword.Config {
	return wakeword.Config{
		Label:        c.Detector.Label,
		ModelPath:    c.Detector.ModelPath,
		Threshold:    c.Detector.Threshold,
		SampleRate:   c.Audio.SampleRate,
		FrameSizeMS:  c.Audio.FrameSizeMS,
		CooldownMS:   c.Detector.CooldownMS,
		ArenaSize:    c.Detector.ArenaSize,
		EnableVAD:    c.Detector.EnableVAD,
		VADThreshold: c.Detector.VADThreshold,
	}
}

// applyEnvOverrides lets deployment environments override the settings
// most often changed per host without editing the config file.
func (cfg *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("WAKEWORD_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			applog.Infof("configuration: overriding debug from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("WAKEWORD_MODEL"); ok {
		cfg.Detector.ModelPath = val
		applog.Infof("configuration: overriding detector.model_path from env: %s", val)
	}
	if val, ok := os.LookupEnv("WAKEWORD_THRESHOLD"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Detector.Threshold = fVal
			applog.Infof("configuration: overriding detector.threshold from env: %v", fVal)
		}
	}
	if val, ok := os.LookupEnv("WAKEWORD_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.WSEnabled = bVal
			applog.Infof("configuration: overriding transport.ws_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("WAKEWORD_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		applog.Infof("configuration: overriding transport.udp_target_address from env: %s", val)
	}
}
