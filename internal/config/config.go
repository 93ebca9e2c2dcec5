// Package config provides configuration for the voicewire client.
// Values come from an optional YAML file, with environment variables
// taking precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the client configuration.
const (
	DefaultAPIBase        = "http://localhost:8000"
	DefaultSampleRate     = 16000
	DefaultChunkInterval  = 100 * time.Millisecond
	DefaultVoice          = "default"
	DefaultVADSensitivity = "normal"
)

// Config holds the full client configuration.
type Config struct {
	// APIBase is the HTTP base URL of the backend (session bootstrap).
	APIBase string `yaml:"api_base"`

	// WSBase is the WebSocket base URL. Derived from APIBase when empty.
	WSBase string `yaml:"ws_base"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`

	// Voice is the TTS voice requested from the backend.
	Voice string `yaml:"voice"`

	// VADSensitivity is one of "quiet", "normal", "sensitive".
	VADSensitivity string `yaml:"vad_sensitivity"`

	// HandsFree enables VAD capture at startup.
	HandsFree bool `yaml:"hands_free"`

	// Audio configures the capture/playback devices.
	Audio AudioConfig `yaml:"audio"`
}

// AudioConfig holds device-level audio settings.
type AudioConfig struct {
	// Backend selects the audio backend ("auto", "device", "mock").
	Backend string `yaml:"backend"`

	// SampleRate is the capture/playback sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Device is the platform-specific device identifier.
	Device string `yaml:"device"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		APIBase:        DefaultAPIBase,
		LogLevel:       "info",
		Voice:          DefaultVoice,
		VADSensitivity: DefaultVADSensitivity,
		HandsFree:      true,
		Audio: AudioConfig{
			Backend:    "auto",
			SampleRate: DefaultSampleRate,
		},
	}
}

// Load reads configuration from the given YAML file (if path is non-empty)
// and applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.WSBase == "" {
		cfg.WSBase = DeriveWSBase(cfg.APIBase)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VOICEWIRE_API_URL"); v != "" {
		c.APIBase = v
	}
	if v := os.Getenv("VOICEWIRE_WS_URL"); v != "" {
		c.WSBase = v
	}
	if v := os.Getenv("VOICEWIRE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VOICEWIRE_VOICE"); v != "" {
		c.Voice = v
	}
	if v := os.Getenv("VOICEWIRE_AUDIO_DEVICE"); v != "" {
		c.Audio.Device = v
	}
}

// DeriveWSBase converts an HTTP base URL to its WebSocket equivalent,
// matching the scheme (http → ws, https → wss).
func DeriveWSBase(apiBase string) string {
	switch {
	case len(apiBase) >= 8 && apiBase[:8] == "https://":
		return "wss://" + apiBase[8:]
	case len(apiBase) >= 7 && apiBase[:7] == "http://":
		return "ws://" + apiBase[7:]
	default:
		return apiBase
	}
}
