package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecognitionChanged is set when any recognition threshold or timing
	// changed; the engine picks it up at the next transcript.
	RecognitionChanged bool
	RecognitionFields  []string

	// PacingChanged is set when any pacing parameter changed; it applies
	// from the next Configure.
	PacingChanged bool
	PacingFields  []string

	// RestartRequired lists sections whose changes need a new session
	// (provider, audio, store, server or control).
	RestartRequired []string
}

// Empty reports whether nothing hot-reloadable or restart-relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RecognitionChanged && !d.PacingChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.RecognitionFields = diffRecognition(old.Recognition, new.Recognition)
	d.RecognitionChanged = len(d.RecognitionFields) > 0

	d.PacingFields = diffPacing(old.Pacing, new.Pacing)
	d.PacingChanged = len(d.PacingFields) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProvider(old.Providers.STT, new.Providers.STT) || !slices.EqualFunc(old.Providers.STTFallbacks, new.Providers.STTFallbacks, sameProvider) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Control != new.Control {
		d.RestartRequired = append(d.RestartRequired, "control")
	}
	return d
}

func diffRecognition(a, b RecognitionConfig) []string {
	var out []string
	add := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	add("exit_threshold", a.ExitThreshold != b.ExitThreshold)
	add("anchor_threshold", a.AnchorThreshold != b.AnchorThreshold)
	add("debounce", a.Debounce != b.Debounce)
	add("stall_timeout", a.StallTimeout != b.StallTimeout)
	add("speaking_level", a.SpeakingLevel != b.SpeakingLevel)
	add("level_rate_hz", a.LevelRateHz != b.LevelRateHz)
	add("language", a.Language != b.Language)
	add("keyword_boost", a.KeywordBoost != b.KeywordBoost)
	add("prefer_on_device", a.PreferOnDevice != b.PreferOnDevice)
	return out
}

func diffPacing(a, b PacingConfig) []string {
	var out []string
	add := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	add("words_per_minute", a.WordsPerMinute != b.WordsPerMinute)
	add("min_base", a.MinBase != b.MinBase)
	add("max_base", a.MaxBase != b.MaxBase)
	add("pause_below", a.PauseBelow != b.PauseBelow)
	add("resume_above", a.ResumeAbove != b.ResumeAbove)
	add("silence_pause", a.SilencePause != b.SilencePause)
	add("silence_stop", a.SilenceStop != b.SilenceStop)
	add("drift_window", a.DriftWindow != b.DriftWindow)
	add("predict_window", a.PredictWindow != b.PredictWindow)
	add("line_width", a.LineWidth != b.LineWidth)
	return out
}

func sameProvider(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
