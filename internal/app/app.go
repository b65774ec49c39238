// Package app wires the Cadence subsystems into a running host.
//
// The App struct owns the full lifecycle: New opens the session log and the
// audio input, Run drives one session from start to the stored record, and
// Shutdown tears everything down in order.
//
// For testing, inject implementations via functional options (WithStore,
// WithAudioSource, WithClock, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/control"
	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/internal/health"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/pacing"
	"github.com/MrWong99/cadence/internal/recognition"
	"github.com/MrWong99/cadence/internal/sessionlog"
	"github.com/MrWong99/cadence/internal/sessionlog/postgres"
	"github.com/MrWong99/cadence/internal/sessionlog/sqlite"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/clock"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// ErrSessionActive is returned by [App.Run] while another session runs.
var ErrSessionActive = errors.New("app: a session is already running")

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	provider stt.Provider

	store     sessionlog.Store
	source    audio.Source
	clk       clock.Clock
	metrics   *observe.Metrics
	telemetry *observe.Telemetry
	level     *slog.LevelVar
	version   string

	mu      sync.Mutex
	running bool
	session *Session
	addr    string

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session log instead of opening one from config.
func WithStore(s sessionlog.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAudioSource injects the microphone input instead of opening
// audio.source from config.
func WithAudioSource(src audio.Source) Option {
	return func(a *App) { a.source = src }
}

// WithClock sets the clock shared by both engines.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clk = c }
}

// WithMetrics sets the instruments used by the engines and the HTTP layer.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry mounts the telemetry's Prometheus handler at /metrics and
// uses its instruments unless [WithMetrics] is also given.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLevelVar lets Reload adjust the log level of the default logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithVersion sets the version reported by the control server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// RunOptions describe one session.
type RunOptions struct {
	Label string

	// Teleprompter enables the scrolling script view alongside the cards.
	Teleprompter bool

	Hooks       recognition.Hooks
	PacingHooks pacing.Hooks

	// Done ends the session when closed, in addition to ctx. The replay
	// recognizer uses it to stop once its script is exhausted.
	Done <-chan struct{}

	// Started, if set, is called once the session listens and the HTTP
	// server accepts connections.
	Started func(*Session)
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. provider is the speech recognizer built by main from
// the config registry.
func New(ctx context.Context, cfg *config.Config, provider stt.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, errors.New("app: a speech recognizer is required")
	}
	a := &App{
		cfg:      cfg,
		provider: provider,
		clk:      clock.Real{},
		version:  "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		if a.telemetry != nil {
			a.metrics = a.telemetry.Metrics
		} else {
			a.metrics = observe.DefaultMetrics()
		}
	}

	// ── 1. Session log ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Audio input ──────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	slog.Info("app initialised",
		"recognizer", cfg.Providers.STT.Name,
		"store", cfg.Store.Driver,
		"audio", cfg.Audio.Source,
		"listen", cfg.Server.ListenAddr,
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, err := OpenStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// OpenStore opens the session log selected by cfg.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (sessionlog.Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		return postgres.NewStore(ctx, cfg.DSN)
	case config.StoreSQLite, "":
		return sqlite.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.Driver)
	}
}

func (a *App) initAudio() error {
	if a.source != nil || a.cfg.Audio.Source == "" {
		return nil
	}
	src, err := audio.OpenSource(a.cfg.Audio.Source, a.cfg.Audio.Format())
	if err != nil {
		return err
	}
	a.source = src
	return nil
}

// Store returns the session log.
func (a *App) Store() sessionlog.Store { return a.store }

// Session returns the running session, nil between sessions.
func (a *App) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Addr returns the address the HTTP server listens on, empty when it is not
// running.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run performs one session over script: it starts listening, serves the
// HTTP surface when server.listen_addr is set, and waits for ctx or
// opts.Done. The session is then finalised, analysed and stored, and its
// record returned.
func (a *App) Run(ctx context.Context, script *cue.Script, opts RunOptions) (sessionlog.Record, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return sessionlog.Record{}, ErrSessionActive
	}
	a.running = true
	cfg := a.cfg
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running, a.session, a.addr = false, nil, ""
		a.mu.Unlock()
	}()

	s, err := NewSession(SessionConfig{
		Label:        opts.Label,
		Script:       script,
		Teleprompter: opts.Teleprompter,
		LineWidth:    cfg.Pacing.LineWidth,
		Recognition:  cfg.ToRecognition(),
		Pacing:       cfg.ToPacing(),
		Provider:     a.provider,
		Source:       a.source,
		Store:        a.store,
		Clock:        a.clk,
		Metrics:      a.metrics,
		Hooks:        opts.Hooks,
		PacingHooks:  opts.PacingHooks,
	})
	if err != nil {
		return sessionlog.Record{}, err
	}
	if err := s.Start(ctx); err != nil {
		return sessionlog.Record{}, fmt.Errorf("app: start session: %w", err)
	}

	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Server.ListenAddr != "" {
		srv := &http.Server{
			Handler:           a.handler(s),
			ReadHeaderTimeout: 10 * time.Second,
		}
		ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			_, _ = s.Finalize(context.WithoutCancel(ctx))
			return sessionlog.Record{}, fmt.Errorf("app: listen %s: %w", cfg.Server.ListenAddr, err)
		}
		a.mu.Lock()
		a.addr = ln.Addr().String()
		a.mu.Unlock()
		slog.Info("http server listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			a.mu.Lock()
			a.addr = ""
			a.mu.Unlock()
			return srv.Shutdown(shutCtx)
		})
	}

	if opts.Started != nil {
		opts.Started(s)
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-opts.Done:
			cancel()
		}
		return nil
	})

	// Wait for the end signal, then stop serving before finalising.
	<-gctx.Done()
	serveErr := g.Wait()

	rec, err := s.Finalize(context.WithoutCancel(ctx))
	return rec, errors.Join(err, serveErr)
}

// handler assembles the HTTP surface for a running session.
func (a *App) handler(s *Session) http.Handler {
	mux := http.NewServeMux()

	checks := []health.Checker{
		health.Ping("store", a.store),
		health.LastError("recognizer", func() error {
			if msg := s.Recognition().LastError(); msg != "" {
				return errors.New(msg)
			}
			return nil
		}),
	}
	health.New(checks).Register(mux)

	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler())
	}

	if a.cfg.Control.MCP.Enabled {
		opts := []control.Option{control.WithMetrics(a.metrics), control.WithVersion(a.version)}
		if p := s.Pacing(); p != nil {
			opts = append(opts, control.WithScroller(p))
		}
		mux.Handle("/mcp", control.New(s.Recognition(), opts...).Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies a changed config. The log level and the recognition
// thresholds take effect immediately; pacing changes apply to the next
// session; everything else is logged as needing a restart.
func (a *App) Reload(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.Empty() {
		return d
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	a.mu.Lock()
	s := a.session
	next := *a.cfg
	next.Server.LogLevel = new.Server.LogLevel
	next.Recognition = new.Recognition
	next.Pacing = new.Pacing
	a.cfg = &next
	a.mu.Unlock()

	if d.RecognitionChanged && s != nil {
		if err := s.UpdateRecognition(next.ToRecognition()); err != nil {
			slog.Warn("recognition config not applied", "fields", d.RecognitionFields, "err", err)
		} else {
			slog.Info("recognition config updated", "fields", d.RecognitionFields)
		}
	}
	if d.PacingChanged {
		slog.Info("pacing config updated, applies to the next session", "fields", d.PacingFields)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops a running session without storing it and closes all
// subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if s := a.Session(); s != nil {
			s.Recognition().Stop()
			if p := s.Pacing(); p != nil {
				p.Stop()
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
