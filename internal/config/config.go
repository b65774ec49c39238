// Package config provides the configuration schema, loader, and provider registry
// for the Cadence cue engine host.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/cadence/internal/pacing"
	"github.com/MrWong99/cadence/internal/recognition"
	"github.com/MrWong99/cadence/pkg/audio"
)

// LogLevel controls log verbosity for the Cadence host.
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

// Slog maps l to a [slog.Level]. Unknown values map to info.
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

// StoreDriver selects the session log backend.
type StoreDriver string

const (
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	return d == StoreSQLite || d == StorePostgres
}

// Config is the root configuration structure for Cadence.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Pacing      PacingConfig      `yaml:"pacing"`
	Audio       AudioConfig       `yaml:"audio"`
	Store       StoreConfig       `yaml:"store"`
	Control     ControlConfig     `yaml:"control"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for health, metrics and the control
	// endpoint (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log level. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the external providers.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary recognizer keeps
	// failing to start a stream.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block for a single provider.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "deepgram", "replay").
	Name string `yaml:"name"`

	// APIKey is the provider credential. "${VAR}" references are expanded
	// from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the provider model.
	Model string `yaml:"model"`

	// Options carries provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// RecognitionConfig holds the card recognition thresholds. Zero values fall
// back to [recognition.DefaultConfig].
type RecognitionConfig struct {
	ExitThreshold   float64       `yaml:"exit_threshold"`
	AnchorThreshold float64       `yaml:"anchor_threshold"`
	Debounce        time.Duration `yaml:"debounce"`
	StallTimeout    time.Duration `yaml:"stall_timeout"`
	SpeakingLevel   float64       `yaml:"speaking_level"`
	LevelRateHz     float64       `yaml:"level_rate_hz"`
	Language        string        `yaml:"language"`
	KeywordBoost    float64       `yaml:"keyword_boost"`
	PreferOnDevice  bool          `yaml:"prefer_on_device"`
}

// PacingConfig holds the teleprompter pacing parameters. Zero values fall
// back to [pacing.DefaultConfig].
type PacingConfig struct {
	WordsPerMinute float64       `yaml:"words_per_minute"`
	MinBase        time.Duration `yaml:"min_base"`
	MaxBase        time.Duration `yaml:"max_base"`
	PauseBelow     float64       `yaml:"pause_below"`
	ResumeAbove    float64       `yaml:"resume_above"`
	SilencePause   time.Duration `yaml:"silence_pause"`
	SilenceStop    time.Duration `yaml:"silence_stop"`
	DriftWindow    int           `yaml:"drift_window"`
	PredictWindow  int           `yaml:"predict_window"`

	// LineWidth wraps card text into teleprompter lines.
	LineWidth int `yaml:"line_width"`
}

// AudioConfig describes the microphone input.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Source is "-" for stdin or a path to a raw PCM file. Empty runs
	// without audio.
	Source string `yaml:"source"`

	// RecordPath is a directory that receives one recording per session.
	RecordPath        string `yaml:"record_path"`
	CompressRecording bool   `yaml:"compress_recording"`
}

// Format returns the configured PCM format.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: a.Channels}
}

// StoreConfig selects where finished sessions are logged.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is a file path (or ":memory:") for sqlite and a connection string
	// for postgres.
	DSN string `yaml:"dsn"`
}

// ControlConfig toggles the remote control surface.
type ControlConfig struct {
	MCP MCPControlConfig `yaml:"mcp"`
}

// MCPControlConfig enables the MCP tool server at /mcp.
type MCPControlConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ToRecognition builds the engine configuration, starting from the engine
// defaults and overriding every field set in the file.
func (c *Config) ToRecognition() recognition.Config {
	out := recognition.DefaultConfig()
	r := c.Recognition
	setFloat(&out.ExitThreshold, r.ExitThreshold)
	setFloat(&out.AnchorThreshold, r.AnchorThreshold)
	setDuration(&out.Debounce, r.Debounce)
	setDuration(&out.StallTimeout, r.StallTimeout)
	setFloat(&out.SpeakingLevel, r.SpeakingLevel)
	if r.LevelRateHz > 0 {
		out.LevelInterval = time.Duration(float64(time.Second) / r.LevelRateHz)
	}
	if r.Language != "" {
		out.Language = r.Language
	}
	setFloat(&out.KeywordBoost, r.KeywordBoost)
	out.PreferOnDevice = r.PreferOnDevice
	if c.Audio.SampleRate > 0 {
		out.Format.SampleRate = c.Audio.SampleRate
	}
	if c.Audio.Channels > 0 {
		out.Format.Channels = c.Audio.Channels
	}
	out.RecordDir = c.Audio.RecordPath
	out.CompressRecording = c.Audio.CompressRecording
	return out
}

// ToPacing builds the pacing engine configuration.
func (c *Config) ToPacing() pacing.Config {
	out := pacing.DefaultConfig()
	p := c.Pacing
	setFloat(&out.WordsPerMinute, p.WordsPerMinute)
	setDuration(&out.MinBase, p.MinBase)
	setDuration(&out.MaxBase, p.MaxBase)
	setFloat(&out.PauseBelow, p.PauseBelow)
	setFloat(&out.ResumeAbove, p.ResumeAbove)
	setDuration(&out.SilencePause, p.SilencePause)
	setDuration(&out.SilenceStop, p.SilenceStop)
	if p.DriftWindow > 0 {
		out.DriftWindow = p.DriftWindow
		out.DriftMinSamples = min(out.DriftMinSamples, p.DriftWindow)
	}
	if p.PredictWindow > 0 {
		out.PredictWindow = p.PredictWindow
		out.PredictMinSamples = min(out.PredictMinSamples, p.PredictWindow)
	}
	return out
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
