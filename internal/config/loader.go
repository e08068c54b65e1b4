package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":   {"genai", "gemini"},
	"assist": {"genai", "openai", "anyllm"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultLogLevel   = LogInfo
	DefaultProvider   = "genai"
)

// Load reads the YAML configuration file at path and returns a validated [Config]
// with API keys filled in from the environment.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = DefaultProvider
	}
	if len(cfg.Providers.Assist) == 0 {
		cfg.Providers.Assist = []AssistEntry{{ProviderEntry: ProviderEntry{Name: DefaultProvider}}}
	}
	if cfg.Audio.Input.Driver == "" {
		cfg.Audio.Input.Driver = DriverFFmpeg
	}
	if cfg.Audio.Output.Driver == "" {
		cfg.Audio.Output.Driver = DriverFFmpeg
	}
}

// ApplyEnv fills empty API keys from the environment. Google backends read
// GEMINI_API_KEY, falling back to API_KEY; the openai backend reads
// OPENAI_API_KEY. The anyllm backend resolves its own variables.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	googleKey := getenv("GEMINI_API_KEY")
	if googleKey == "" {
		googleKey = getenv("API_KEY")
	}
	if cfg.Providers.Live.APIKey == "" {
		cfg.Providers.Live.APIKey = googleKey
	}
	for i := range cfg.Providers.Assist {
		e := &cfg.Providers.Assist[i]
		if e.APIKey != "" {
			continue
		}
		switch e.Name {
		case "genai":
			e.APIKey = googleKey
		case "openai":
			e.APIKey = getenv("OPENAI_API_KEY")
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Live provider
	if cfg.Providers.Live.Name == "" {
		errs = append(errs, errors.New("providers.live.name is required"))
	}
	validateProviderName("live", cfg.Providers.Live.Name)

	// Assist backends
	labels := make(map[string]int, len(cfg.Providers.Assist))
	for i, e := range cfg.Providers.Assist {
		prefix := fmt.Sprintf("providers.assist[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("assist", e.Name)
		if prev, ok := labels[e.Label()]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of providers.assist[%d]", prefix, e.Label(), prev))
		}
		labels[e.Label()] = i
		if e.Name == "anyllm" {
			if e.Option("provider") == "" {
				errs = append(errs, fmt.Errorf("%s.options.provider is required for anyllm", prefix))
			}
			if e.Model == "" {
				errs = append(errs, fmt.Errorf("%s.model is required for anyllm", prefix))
			}
		}
		for j, k := range e.Tools {
			if _, err := assist.ParseKind(string(k)); err != nil {
				errs = append(errs, fmt.Errorf("%s.tools[%d] %q is invalid; valid values: %v", prefix, j, k, assist.Kinds))
			}
		}
	}

	// Live session
	if cfg.Live.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("live.block_size %d must not be negative", cfg.Live.BlockSize))
	}
	if cfg.Live.OutboundDepth < 0 {
		errs = append(errs, fmt.Errorf("live.outbound_depth %d must not be negative", cfg.Live.OutboundDepth))
	}
	if cfg.Live.LegacyWraparound {
		slog.Warn("live.legacy_wraparound is set; out-of-range samples will wrap instead of clipping")
	}

	// Audio devices
	if d := cfg.Audio.Input.Driver; d != "" && d != DriverFFmpeg {
		errs = append(errs, fmt.Errorf("audio.input.driver %q is invalid; valid values: %s", d, DriverFFmpeg))
	}
	if d := cfg.Audio.Output.Driver; d != "" && d != DriverFFmpeg && d != DriverDiscard {
		errs = append(errs, fmt.Errorf("audio.output.driver %q is invalid; valid values: %s, %s", d, DriverFFmpeg, DriverDiscard))
	}
	if v := cfg.Audio.Output.Volume; v < 0 || v > 100 {
		errs = append(errs, fmt.Errorf("audio.output.volume %d is out of range [0, 100]", v))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}
	if cfg.Resilience.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.request_timeout %s must not be negative", cfg.Resilience.RequestTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
