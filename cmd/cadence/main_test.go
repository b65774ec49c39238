package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/cadence/internal/analytics"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/resilience"
	"github.com/MrWong99/cadence/internal/sessionlog"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	sttmock "github.com/MrWong99/cadence/pkg/provider/stt/mock"
)

func TestRun_UnknownCommand(t *testing.T) {
	if got := run([]string{"dance"}); got != 2 {
		t.Errorf("exit code: got %d, want 2", got)
	}
	if got := run(nil); got != 2 {
		t.Errorf("exit code without args: got %d, want 2", got)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")

	if _, err := loadConfig(missing, true, nil); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("required missing config: got %v", err)
	}

	cfg, err := loadConfig(missing, false, nil)
	if err != nil {
		t.Fatalf("optional missing config: %v", err)
	}
	if cfg.Store.Driver != config.StoreSQLite {
		t.Errorf("defaults not applied: %+v", cfg.Store)
	}

	// A deepgram config without a key is invalid, but replay replaces the
	// recognizer before validation.
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("providers:\n  stt:\n    name: deepgram\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path, true, nil); err == nil {
		t.Error("expected validation error for deepgram without api_key")
	}
	cfg, err = loadConfig(path, true, func(c *config.Config) {
		c.Providers.STT = config.ProviderEntry{Name: "replay"}
	})
	if err != nil {
		t.Fatalf("adjusted config: %v", err)
	}
	if cfg.Providers.STT.Name != "replay" {
		t.Errorf("provider: got %q", cfg.Providers.STT.Name)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	names := reg.STTNames()
	if len(names) != 2 || names[0] != "deepgram" || names[1] != "replay" {
		t.Fatalf("STTNames: got %v", names)
	}

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "replay"}); err == nil {
		t.Error("replay without transcript: expected error")
	}

	path := filepath.Join(t.TempDir(), "take.txt")
	if err := os.WriteFile(path, []byte("0s good evening everybody\n2s thanks for coming out tonight\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := reg.CreateSTT(config.ProviderEntry{
		Name:    "replay",
		Options: map[string]any{"transcript": path, "word_interval": "50ms"},
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if _, ok := p.(interface{ Exhausted() <-chan struct{} }); !ok {
		t.Error("replay provider should expose Exhausted")
	}
}

func TestBuildRecognizer(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterSTT("fake", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })

	p, err := buildRecognizer(reg, config.ProvidersConfig{STT: config.ProviderEntry{Name: "fake"}})
	if err != nil {
		t.Fatalf("primary only: %v", err)
	}
	if _, ok := p.(*sttmock.Provider); !ok {
		t.Errorf("primary only: got %T, want the bare provider", p)
	}

	p, err = buildRecognizer(reg, config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "fake"},
		STTFallbacks: []config.ProviderEntry{{Name: "fake"}},
	})
	if err != nil {
		t.Fatalf("with fallback: %v", err)
	}
	r, ok := p.(*resilience.Recognizer)
	if !ok {
		t.Fatalf("with fallback: got %T, want *resilience.Recognizer", p)
	}
	if names := r.Names(); len(names) != 2 || names[1] != "fake#1" {
		t.Errorf("names: got %v", names)
	}

	if _, err := buildRecognizer(reg, config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "fake"},
		STTFallbacks: []config.ProviderEntry{{Name: "missing"}},
	}); err == nil || !strings.Contains(err.Error(), "stt_fallbacks[0]") {
		t.Errorf("unknown fallback: got %v", err)
	}
}

func TestRenderRecord(t *testing.T) {
	t.Parallel()
	rec := sessionlog.Record{
		ID:                "abc-123",
		Label:             "Friday set",
		Mode:              sessionlog.ModeCards,
		StartedAt:         time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
		Duration:          95 * time.Second,
		CardCount:         3,
		FinalCard:         2,
		AverageConfidence: 0.82,
		Payload: sessionlog.Payload{
			Insights: []analytics.Insight{{
				Type:     analytics.TypeOverall,
				Severity: analytics.SeveritySuccess,
				Title:    "Solid run",
				Detail:   "Recognition stayed confident throughout.",
			}},
		},
	}
	out := renderRecord(rec)
	for _, want := range []string{"abc-123", "Friday set", "reached 3 of 3", "82% average", "SUCCESS", "Solid run"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	if got := renderList(nil); !strings.Contains(got, "no sessions") {
		t.Errorf("empty list: got %q", got)
	}
	if got := renderList([]sessionlog.Record{rec}); !strings.Contains(got, "Friday set") {
		t.Errorf("list missing label: %q", got)
	}
}
