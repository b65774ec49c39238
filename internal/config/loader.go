package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "replay"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultLineWidth  = 42
	DefaultStoreDSN   = "cadence.db"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Parse(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML config from r and expands environment references in
// the api key. It neither applies defaults nor validates, so callers can
// adjust the result first. An empty document yields a zero Config.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Providers.STT.APIKey = os.ExpandEnv(cfg.Providers.STT.APIKey)
	for i := range cfg.Providers.STTFallbacks {
		cfg.Providers.STTFallbacks[i].APIKey = os.ExpandEnv(cfg.Providers.STTFallbacks[i].APIKey)
	}
	return cfg, nil
}

// ApplyDefaults fills unset host settings. Engine thresholds are left at
// zero; [Config.ToRecognition] and [Config.ToPacing] resolve those.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Pacing.LineWidth == 0 {
		cfg.Pacing.LineWidth = DefaultLineWidth
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Store.Driver == StoreSQLite && cfg.Store.DSN == "" {
		cfg.Store.DSN = DefaultStoreDSN
	}
	if cfg.Control.MCP.Enabled && cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
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

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	if cfg.Providers.STT.Name == "deepgram" && cfg.Providers.STT.APIKey == "" {
		errs = append(errs, errors.New("providers.stt.api_key is required for deepgram"))
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
		if fb.Name == "deepgram" && fb.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].api_key is required for deepgram", i))
		}
	}

	// Engines: the resolved configurations must be usable.
	if err := cfg.ToRecognition().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recognition: %w", err))
	}
	if err := cfg.ToPacing().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pacing: %w", err))
	}
	if cfg.Recognition.LevelRateHz < 0 {
		errs = append(errs, fmt.Errorf("recognition.level_rate_hz %v must not be negative", cfg.Recognition.LevelRateHz))
	}
	if cfg.Pacing.LineWidth < 0 {
		errs = append(errs, fmt.Errorf("pacing.line_width %d must not be negative", cfg.Pacing.LineWidth))
	}

	// Audio
	if cfg.Audio.Source != "" && cfg.Providers.STT.Name == "replay" {
		slog.Warn("audio.source is ignored by the replay recognizer", "source", cfg.Audio.Source)
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: sqlite, postgres", cfg.Store.Driver))
	}
	if cfg.Store.Driver == StorePostgres && cfg.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required when driver is postgres"))
	}

	// Control
	if cfg.Control.MCP.Enabled && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("control.mcp.enabled requires server.listen_addr"))
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
