package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/resilience"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	"github.com/MrWong99/cadence/pkg/provider/stt/deepgram"
	"github.com/MrWong99/cadence/pkg/provider/stt/replay"
)

// registerBuiltinProviders wires the recognizers that ship with Cadence
// into reg. Each factory receives a config.ProviderEntry.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		if ms := optInt(entry.Options, "endpointing_ms"); ms > 0 {
			opts = append(opts, deepgram.WithEndpointing(time.Duration(ms)*time.Millisecond))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// replay plays a timed transcript file instead of listening.
	reg.RegisterSTT("replay", func(entry config.ProviderEntry) (stt.Provider, error) {
		path := optString(entry.Options, "transcript")
		if path == "" {
			return nil, fmt.Errorf("replay: options.transcript is required")
		}
		entries, err := replay.LoadScript(path)
		if err != nil {
			return nil, err
		}
		var opts []replay.Option
		if s := optString(entry.Options, "word_interval"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("replay: word_interval: %w", err)
			}
			opts = append(opts, replay.WithWordInterval(d))
		}
		return replay.New(entries, opts...), nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// buildRecognizer creates the primary recognizer and, when fallbacks are
// configured, wraps it in a [resilience.Recognizer] that fails over to them.
func buildRecognizer(reg *config.Registry, cfg config.ProvidersConfig) (stt.Provider, error) {
	primary, err := reg.CreateSTT(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("stt %q: %w", cfg.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.STT.Name)
	if len(cfg.STTFallbacks) == 0 {
		return primary, nil
	}

	r := resilience.NewRecognizer(cfg.STT.Name, primary, resilience.CircuitBreakerConfig{})
	for i, entry := range cfg.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("stt_fallbacks[%d] %q: %w", i, entry.Name, err)
		}
		r.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallback", i+1)
	}
	return r, nil
}
