package config_test

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/cadence/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.Source != "-" {
		t.Errorf("audio.source: got %q", cfg.Audio.Source)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("want fs.ErrNotExist, got %v", err)
	}
}

func TestLoad_InvalidFileNamesPath(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "store:\n  driver: mongo\n")

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("error should name the file, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"deepgram", "replay"} {
		found := false
		for _, known := range config.ValidProviderNames["stt"] {
			if known == name {
				found = true
			}
		}
		if !found {
			t.Errorf("stt provider %q missing from ValidProviderNames", name)
		}
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "example-key")
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("configs/example.yaml: %v", err)
	}
	if cfg.Providers.STT.APIKey != "example-key" {
		t.Errorf("api_key: got %q", cfg.Providers.STT.APIKey)
	}
	if got := cfg.ToRecognition().ExitThreshold; got != 0.7 {
		t.Errorf("exit_threshold: got %v", got)
	}
	if cfg.Store.Driver != config.StoreSQLite {
		t.Errorf("store.driver: got %q", cfg.Store.Driver)
	}
}
