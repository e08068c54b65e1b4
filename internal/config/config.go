// Package config provides the configuration schema, loader, and provider registry
// for the HeroAI server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/heroai/pkg/provider/assist"
	liveprov "github.com/MrWong99/heroai/pkg/provider/live"
)

// LogLevel controls log verbosity for the HeroAI server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the matching slog level. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Audio device drivers.
const (
	// DriverFFmpeg captures through ffmpeg and plays through ffplay.
	DriverFFmpeg = "ffmpeg"

	// DriverDiscard renders output on the real-time clock and throws the
	// samples away. Output only.
	DriverDiscard = "discard"
)

// Config is the root configuration structure for HeroAI.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Live       LiveConfig       `yaml:"live"`
	Audio      AudioConfig      `yaml:"audio"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings for the HeroAI server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the hosted model services.
type ProvidersConfig struct {
	// Live is the real-time voice model behind the live session.
	Live ProviderEntry `yaml:"live"`

	// Assist lists the backends of the single-shot tools. For every tool the
	// first entry serving it is the primary and the rest are fallbacks in
	// list order.
	Assist []AssistEntry `yaml:"assist"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "genai", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Option returns the string option key, or "" when it is unset or not a string.
func (e ProviderEntry) Option(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// AssistEntry configures one assist backend.
type AssistEntry struct {
	ProviderEntry `yaml:",inline"`

	// Tools restricts the kinds this backend is used for. Empty means every
	// kind the backend supports.
	Tools []assist.Kind `yaml:"tools"`
}

// Label identifies the entry in logs and fallback chains. Entries of the
// "anyllm" provider are labelled with their upstream provider.
func (e AssistEntry) Label() string {
	if p := e.Option("provider"); e.Name == "anyllm" && p != "" {
		return "anyllm/" + p
	}
	return e.Name
}

// Serves reports whether the entry is configured for kind.
func (e AssistEntry) Serves(kind assist.Kind) bool {
	if len(e.Tools) == 0 {
		return true
	}
	for _, k := range e.Tools {
		if k == kind {
			return true
		}
	}
	return false
}

// LiveConfig tunes the live voice session. Voice and Instructions take effect
// on the next session after a reload.
type LiveConfig struct {
	// Voice is the prebuilt voice name. Default: Zephyr.
	Voice string `yaml:"voice"`

	// Instructions is an optional system instruction.
	Instructions string `yaml:"instructions"`

	// BlockSize is the number of samples per captured frame. Default: 4096.
	BlockSize int `yaml:"block_size"`

	// OutboundDepth is how many captured frames may queue for the network
	// before the oldest is dropped.
	OutboundDepth int `yaml:"outbound_depth"`

	// LegacyWraparound selects the unclamped sample conversion that wraps
	// out-of-range samples instead of saturating them.
	LegacyWraparound bool `yaml:"legacy_wraparound"`
}

// AudioConfig selects the local audio devices.
type AudioConfig struct {
	Input  DeviceConfig `yaml:"input"`
	Output DeviceConfig `yaml:"output"`
}

// DeviceConfig describes one audio device.
type DeviceConfig struct {
	// Driver selects the registered device implementation.
	Driver string `yaml:"driver"`

	// Path overrides the helper binary (ffmpeg or ffplay).
	Path string `yaml:"path"`

	// Device is the platform device name (e.g., "default" for PulseAudio,
	// ":0" for AVFoundation). Input only.
	Device string `yaml:"device"`

	// Volume is the playback volume in percent. Output only. Default: 80.
	Volume int `yaml:"volume"`
}

// ResilienceConfig tunes the circuit breakers and timeouts of the assist tools.
type ResilienceConfig struct {
	// MaxFailures is the number of consecutive failures before a backend's
	// breaker opens. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	// Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// RequestTimeout bounds one tool request across all backends.
	// Default: 3m.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LiveSession returns the remote session configuration derived from cfg.
func (c *Config) LiveSession() liveprov.Config {
	sc := liveprov.DefaultConfig()
	if c.Providers.Live.Model != "" {
		sc.Model = c.Providers.Live.Model
	}
	if c.Live.Voice != "" {
		sc.Voice = c.Live.Voice
	}
	sc.Instructions = c.Live.Instructions
	return sc
}
