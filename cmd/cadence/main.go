// Command cadence runs hands-free cue-card sessions: it listens to the
// performer, advances cards on spoken exit phrases, optionally scrolls a
// teleprompter at the performer's pace, and stores an analysed record of
// every session.
//
// Usage:
//
//	cadence run      -config config.yaml -script set.yaml [-teleprompter]
//	cadence replay   -script set.yaml -transcript take1.txt [-teleprompter]
//	cadence sessions [-limit 20]
//	cadence report   -id SESSION_ID
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/cadence/internal/app"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/sessionlog"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return 2
	}

	// .env is optional; DEEPGRAM_API_KEY usually lives there.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "cadence: load .env: %v\n", err)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return runSession(rest, false)
	case "replay":
		return runSession(rest, true)
	case "sessions":
		return listSessions(rest)
	case "report":
		return showReport(rest)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "cadence: unknown command %q\n\n", cmd)
		usage(os.Stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: cadence <command> [flags]

commands:
  run       live session from the configured recognizer and audio source
  replay    session driven by a timed transcript file
  sessions  list stored sessions
  report    show the analysis of a stored session

run "cadence <command> -h" for the flags of a command.`)
}

// ── run / replay ──────────────────────────────────────────────────────────────

func runSession(args []string, replayMode bool) int {
	name := "run"
	if replayMode {
		name = "replay"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	scriptPath := fs.String("script", "", "cue script (.yaml, .yml or .toml)")
	label := fs.String("label", "", "session label (defaults to the script title)")
	teleprompter := fs.Bool("teleprompter", false, "scroll the script as a teleprompter alongside the cards")
	var transcriptPath *string
	var wordInterval *time.Duration
	if replayMode {
		transcriptPath = fs.String("transcript", "", "timed transcript to replay")
		wordInterval = fs.Duration("word-interval", 0, "emit growing partials one word per interval")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *scriptPath == "" {
		fmt.Fprintf(os.Stderr, "cadence %s: -script is required\n", name)
		return 2
	}
	if replayMode && *transcriptPath == "" {
		fmt.Fprintln(os.Stderr, "cadence replay: -transcript is required")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, !replayMode, func(c *config.Config) {
		if replayMode {
			c.Providers.STT = config.ProviderEntry{
				Name: "replay",
				Options: map[string]any{
					"transcript":    *transcriptPath,
					"word_interval": wordInterval.String(),
				},
			}
			c.Providers.STTFallbacks = nil
			c.Audio.Source = ""
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cadence: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	script, err := cue.LoadScript(*scriptPath)
	if err != nil {
		slog.Error("failed to load script", "path", *scriptPath, "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	provider, err := buildRecognizer(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to create recognizer", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "cadence", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg, provider,
		app.WithTelemetry(tel),
		app.WithLevelVar(level),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if !replayMode {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			application.Reload(old, new)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	printStartupSummary(os.Stderr, cfg, script, *teleprompter)

	opts := app.RunOptions{
		Label:        *label,
		Teleprompter: *teleprompter,
		Hooks:        liveHooks(os.Stderr, script),
		PacingHooks:  livePacingHooks(os.Stderr),
	}
	if ex, ok := provider.(interface{ Exhausted() <-chan struct{} }); ok {
		opts.Done = ex.Exhausted()
	}

	slog.Info("listening, press Ctrl+C to finish the session")
	rec, runErr := application.Run(ctx, script, opts)
	if rec.ID != "" {
		fmt.Println(renderRecord(rec))
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		slog.Error("session error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── sessions / report ─────────────────────────────────────────────────────────

func listSessions(args []string) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	limit := fs.Int("limit", 20, "maximum number of sessions to list, 0 for all")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return withStore(*configPath, func(ctx context.Context, store sessionlog.Store) error {
		recs, err := store.List(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Println(renderList(recs))
		return nil
	})
}

func showReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	id := fs.String("id", "", "session id")
	reanalyze := fs.Bool("reanalyze", false, "recompute insights from the stored timeline")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "cadence report: -id is required")
		return 2
	}
	return withStore(*configPath, func(ctx context.Context, store sessionlog.Store) error {
		rec, err := store.Get(ctx, *id)
		if errors.Is(err, sessionlog.ErrNotFound) {
			return fmt.Errorf("no session with id %q", *id)
		}
		if err != nil {
			return err
		}
		if *reanalyze {
			rec.Insights = rec.Reanalyze()
		}
		fmt.Println(renderRecord(rec))
		return nil
	})
}

// withStore opens the configured session log, calls fn and closes the store.
func withStore(configPath string, fn func(context.Context, sessionlog.Store) error) int {
	cfg, err := loadConfig(configPath, false, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cadence: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cadence: open session log: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := fn(ctx, store); err != nil {
		fmt.Fprintf(os.Stderr, "cadence: %v\n", err)
		return 1
	}
	return 0
}

// ── Configuration ─────────────────────────────────────────────────────────────

// loadConfig reads path. When the file is missing and required is false,
// defaults are used. adjust, if set, runs before validation.
func loadConfig(path string, required bool, adjust func(*config.Config)) (*config.Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && required:
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	case errors.Is(err, os.ErrNotExist):
		data = nil
	case err != nil:
		return nil, err
	}

	var cfg *config.Config
	if adjust == nil {
		cfg, err = config.LoadFromReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", path, err)
		}
		return cfg, nil
	}

	// Parse without validation, adjust, then validate the result.
	cfg, err = config.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	adjust(cfg)
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, script *cue.Script, teleprompter bool) {
	recognizer := cfg.Providers.STT.Name
	if cfg.Providers.STT.Model != "" {
		recognizer += " / " + cfg.Providers.STT.Model
	}
	for _, fb := range cfg.Providers.STTFallbacks {
		recognizer += ", then " + fb.Name
	}
	mode := "cards"
	if teleprompter {
		mode = "cards + teleprompter"
	}
	rows := [][2]string{
		{"Script", fmt.Sprintf("%s (%d cards)", script.Title, len(script.Cards))},
		{"Mode", mode},
		{"Recognizer", recognizer},
		{"Audio", orNone(cfg.Audio.Source)},
		{"Session log", string(cfg.Store.Driver)},
		{"Listen addr", orNone(cfg.Server.ListenAddr)},
	}
	fmt.Fprintln(w, renderSummary("Cadence", rows))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// optString extracts a string value from a provider Options map[string]any.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML
// decodes integers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
