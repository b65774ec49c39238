// Package recognition implements the hands-free cue card engine.
//
// An [Engine] owns an ordered deck of cue cards and a cursor into it. Every
// transcript update from the recognizer is scored against the current
// card's exit and anchor phrases; a confident exit phrase advances the deck
// automatically, at most once per debounce window. Manual navigation,
// audio-level metering, a stall watchdog and session recording complete the
// picture.
//
// All state lives behind a single mutex, the engine's owning context. The
// recognizer and audio pumps hand their events to the same public methods a
// host would call, and hooks run after the lock is released.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cadence/internal/analytics"
	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/internal/match"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/clock"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

var (
	// ErrNoCards is returned when the engine has no cards to work with.
	ErrNoCards = errors.New("recognition: no cards configured")

	// ErrAlreadyRunning is returned by Start and Configure while a session
	// is listening.
	ErrAlreadyRunning = errors.New("recognition: session already running")

	// ErrCardOutOfRange is returned by JumpToCard for an invalid index.
	ErrCardOutOfRange = errors.New("recognition: card index out of range")

	// ErrStartAborted is returned by Start when Stop was called while the
	// recognizer was still being acquired.
	ErrStartAborted = errors.New("recognition: stopped while starting")
)

// Option configures an [Engine].
type Option func(*Engine)

// WithClock sets the clock used for debounce, watchdog and timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithHooks sets the event hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithAudioSource feeds live audio for level metering, forwarding to the
// recognizer and recording.
func WithAudioSource(src audio.Source) Option {
	return func(e *Engine) { e.source = src }
}

// WithMatcher replaces the default phrase matcher.
func WithMatcher(m *match.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// phrases caches a card's tokenised cue phrases.
type phrases struct {
	exit, anchor []string
	valid        bool // see [cue.Card.Valid]
}

// Engine is the cue card recognition engine. Create one with [New].
type Engine struct {
	provider stt.Provider
	source   audio.Source
	clk      clock.Clock
	hooks    Hooks
	matcher  *match.Matcher
	metrics  *observe.Metrics

	mu       sync.Mutex
	cfg      Config
	throttle *audio.Throttle
	state    State
	starting bool
	// stopPending records a Stop that arrived while starting.
	stopPending bool
	cards    []cue.Card
	phrases  []phrases
	current  int

	label     string
	sessionID string
	startedAt time.Time
	ctx       context.Context

	lastExit   time.Time
	exitConf   float64
	anchorConf float64
	detection  Detection
	partial    string
	consumed   int
	level      float64
	lastErr    string

	transitions []Transition
	points      []analytics.DataPoint

	lastTranscript time.Time
	lastSpeech     time.Time
	lastRestart    time.Time
	restarts       int

	handle       stt.SessionHandle
	streamCfg    stt.StreamConfig
	restartCh    chan struct{}
	recorder     *audio.Recorder
	cancel       context.CancelFunc
	group        *errgroup.Group
	stopWatchdog clock.Cancel
}

// New creates an idle Engine that recognises speech through provider.
func New(provider stt.Provider, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		cfg:      cfg,
		clk:      clock.Real{},
		matcher:  match.New(),
		ctx:      context.Background(),
		throttle: audio.NewThrottle(cfg.LevelInterval),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// notice collects hook invocations while the lock is held.
type notice struct {
	transitioned bool
	index        int
	card         cue.Card
	transition   Transition

	confidence *Confidence
	status     *Status
	level      *float64
	transcript *Event
}

func (e *Engine) emit(n notice) {
	if n.transcript != nil && e.hooks.OnTranscript != nil {
		e.hooks.OnTranscript(n.transcript.Text, n.transcript.Final)
	}
	if n.confidence != nil && e.hooks.OnConfidence != nil {
		e.hooks.OnConfidence(*n.confidence)
	}
	if n.transitioned && e.hooks.OnCardTransition != nil {
		e.hooks.OnCardTransition(n.index, n.card, n.transition)
	}
	if n.level != nil && e.hooks.OnAudioLevel != nil {
		e.hooks.OnAudioLevel(*n.level)
	}
	if n.status != nil && e.hooks.OnStatus != nil {
		e.hooks.OnStatus(*n.status)
	}
}

// Configure replaces the deck and resets the cursor to the first card. It
// fails while a session is listening.
func (e *Engine) Configure(cards []cue.Card) error {
	if len(cards) == 0 {
		return ErrNoCards
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateListening || e.starting {
		return ErrAlreadyRunning
	}
	e.cards = append([]cue.Card(nil), cards...)
	e.phrases = make([]phrases, len(cards))
	for i, c := range e.cards {
		e.phrases[i] = phrases{
			exit:   match.Tokenize(c.ExitPhrase),
			anchor: match.Tokenize(c.AnchorPhrase),
			valid:  c.Valid(),
		}
	}
	e.current = 0
	e.lastExit = time.Time{}
	e.transitions = nil
	e.points = nil
	e.resetTransientLocked()
	return nil
}

// UpdateConfig swaps the configuration. A transcript update already being
// scored keeps the values it started with.
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("recognition: update config: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.LevelInterval != e.cfg.LevelInterval {
		e.throttle = audio.NewThrottle(cfg.LevelInterval)
	}
	e.cfg = cfg
	return nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) resetTransientLocked() {
	e.exitConf = 0
	e.anchorConf = 0
	e.detection = DetectionNone
	e.partial = ""
	e.consumed = 0
	e.level = 0
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the most recent surfaced or fatal error message, or "".
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Cards returns a copy of the deck.
func (e *Engine) Cards() []cue.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]cue.Card(nil), e.cards...)
}

// CurrentCard returns the card under the cursor. ok is false without cards.
func (e *Engine) CurrentCard() (card cue.Card, index int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.cards) == 0 {
		return cue.Card{}, 0, false
	}
	return e.cards[e.current], e.current, true
}

// Snapshot returns a copy of the published state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		State:            e.state,
		Label:            e.label,
		SessionID:        e.sessionID,
		CardIndex:        e.current,
		CardCount:        len(e.cards),
		Partial:          e.partial,
		AudioLevel:       e.level,
		ExitConfidence:   e.exitConf,
		AnchorConfidence: e.anchorConf,
		LastDetection:    e.detection,
		LastError:        e.lastErr,
		Transitions:      len(e.transitions),
		Restarts:         e.restarts,
	}
	if e.state == StateListening {
		s.Elapsed = e.clk.Now().Sub(e.startedAt)
	}
	return s
}

// Transitions returns the transition log of the current session.
func (e *Engine) Transitions() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Transition(nil), e.transitions...)
}

// IngestTranscript scores a transcript update against the current card.
// Both confidences are refreshed on every call. A matching exit phrase
// advances the deck unless an automatic advance happened within the
// debounce window; otherwise a matching anchor phrase is noted. Updates are
// ignored unless the engine is listening.
func (e *Engine) IngestTranscript(ev Event) {
	start := time.Now()
	e.mu.Lock()
	if e.state != StateListening || len(e.cards) == 0 {
		e.mu.Unlock()
		return
	}
	cfg := e.cfg
	now := e.clk.Now()
	ctx := e.ctx

	words := match.Tokenize(ev.Text)
	if len(words) > 0 {
		e.lastTranscript = now
	}
	if len(words) < e.consumed {
		e.consumed = 0
	}
	fresh := words[e.consumed:]
	e.partial = ev.Text

	p := e.phrases[e.current]
	// A filler-only exit phrase would fire on ordinary speech.
	var exit match.Result
	if p.valid {
		exit = e.matcher.MatchTokens(fresh, p.exit, cfg.ExitThreshold)
	}
	anchor := e.matcher.MatchTokens(fresh, p.anchor, cfg.AnchorThreshold)
	e.exitConf = match.Shape(exit.Confidence, cfg.ExitThreshold)
	e.anchorConf = match.Shape(anchor.Confidence, cfg.AnchorThreshold)
	e.points = append(e.points, analytics.DataPoint{
		At:         now.Sub(e.startedAt),
		Confidence: max(exit.Confidence, anchor.Confidence),
		Index:      e.current,
	})

	var n notice
	switch {
	case exit.Matches && (e.lastExit.IsZero() || now.Sub(e.lastExit) >= cfg.Debounce):
		e.lastExit = now
		e.consumed = len(words)
		if e.current < len(e.cards)-1 {
			n = e.moveLocked(e.current+1, true, now)
		} else {
			e.exitConf, e.anchorConf = 0, 0
		}
		e.detection = DetectionExit
	case anchor.Matches:
		e.detection = DetectionAnchor
	}
	if ev.Final {
		e.consumed = 0
		e.partial = ""
	}
	n.transcript = &ev
	n.confidence = &Confidence{Exit: e.exitConf, Anchor: e.anchorConf, Detection: e.detection}
	e.mu.Unlock()

	e.metrics.RecordTranscript(ctx, ev.Final)
	e.metrics.MatchDuration.Record(ctx, time.Since(start).Seconds())
	e.metrics.RecordConfidence(ctx, "exit", exit.Confidence)
	e.metrics.RecordConfidence(ctx, "anchor", anchor.Confidence)
	if n.transitioned {
		e.metrics.RecordTransition(ctx, true, "next")
		observe.Logger(ctx).Info("recognition: exit phrase detected",
			"from", n.transition.From, "to", n.transition.To,
			"confidence", exit.Confidence, "strategy", exit.Strategy)
	}
	e.emit(n)
}

// moveLocked moves the cursor to index, logs the transition and resets the
// per-card state. Words already heard in the current utterance are excluded
// from matching the new card.
func (e *Engine) moveLocked(index int, automatic bool, now time.Time) notice {
	t := Transition{From: e.current, To: index, Automatic: automatic}
	if !e.startedAt.IsZero() {
		t.At = now.Sub(e.startedAt)
	}
	e.current = index
	e.transitions = append(e.transitions, t)
	e.exitConf, e.anchorConf = 0, 0
	e.consumed = len(match.Tokenize(e.partial))
	return notice{transitioned: true, index: index, card: e.cards[index], transition: t}
}

// AdvanceToNextCard moves to the next card. It reports false on the last
// card. The debounce window is left untouched.
func (e *Engine) AdvanceToNextCard(automatic bool) bool {
	e.mu.Lock()
	if len(e.cards) == 0 || e.current >= len(e.cards)-1 {
		e.mu.Unlock()
		return false
	}
	now := e.clk.Now()
	if automatic {
		e.lastExit = now
	}
	n := e.moveLocked(e.current+1, automatic, now)
	ctx := e.ctx
	e.mu.Unlock()

	e.metrics.RecordTransition(ctx, automatic, "next")
	e.emit(n)
	return true
}

// GoToPreviousCard moves back one card and clears the debounce window so
// the card's exit phrase is detected immediately. It reports false on the
// first card.
func (e *Engine) GoToPreviousCard() bool {
	e.mu.Lock()
	if len(e.cards) == 0 || e.current == 0 {
		e.mu.Unlock()
		return false
	}
	n := e.moveLocked(e.current-1, false, e.clk.Now())
	e.lastExit = time.Time{}
	ctx := e.ctx
	e.mu.Unlock()

	e.metrics.RecordTransition(ctx, false, "previous")
	e.emit(n)
	return true
}

// JumpToCard moves to index and clears the debounce window. Jumping to the
// current card is a no-op.
func (e *Engine) JumpToCard(index int) error {
	e.mu.Lock()
	if index < 0 || index >= len(e.cards) {
		count := len(e.cards)
		e.mu.Unlock()
		return fmt.Errorf("%w: %d not in [0,%d)", ErrCardOutOfRange, index, count)
	}
	if index == e.current {
		e.mu.Unlock()
		return nil
	}
	n := e.moveLocked(index, false, e.clk.Now())
	e.lastExit = time.Time{}
	ctx := e.ctx
	e.mu.Unlock()

	e.metrics.RecordTransition(ctx, false, "jump")
	e.emit(n)
	return nil
}

// IngestAudioLevel records an audio level in [0,1]. Every sample feeds the
// stall watchdog; publication through [Hooks.OnAudioLevel] is throttled.
func (e *Engine) IngestAudioLevel(level float64) {
	level = match.Clamp01(level)
	e.mu.Lock()
	if e.state != StateListening {
		e.mu.Unlock()
		return
	}
	now := e.clk.Now()
	if level >= e.cfg.SpeakingLevel {
		e.lastSpeech = now
	}
	if !e.throttle.Allow(now) {
		e.mu.Unlock()
		return
	}
	e.level = level
	e.mu.Unlock()
	e.emit(notice{level: &level})
}

// surface records a non-fatal error for the host.
func (e *Engine) surface(err error) {
	e.mu.Lock()
	e.lastErr = err.Error()
	st := Status{State: e.state, Message: err.Error(), Err: err}
	ctx := e.ctx
	e.mu.Unlock()

	observe.Logger(ctx).Warn("recognition: error", "err", err)
	e.emit(notice{status: &st})
}

// Start opens the recognizer stream and, when configured, the audio source
// and recorder, then begins listening. Availability, permission and
// configuration failures leave the engine idle; the error is returned and
// also kept in [Engine.LastError].
func (e *Engine) Start(ctx context.Context, label string) error {
	e.mu.Lock()
	switch {
	case len(e.cards) == 0:
		e.mu.Unlock()
		return ErrNoCards
	case e.state == StateListening || e.starting:
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.starting = true
	e.stopPending = false
	cfg := e.cfg
	keywords := e.keywordsLocked(cfg.KeywordBoost)
	e.mu.Unlock()

	sessionID := uuid.NewString()
	ctx = observe.WithSession(ctx, sessionID)
	ctx, span := observe.StartSpan(ctx, "recognition.start")
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	st, err := e.acquire(runCtx, cfg, label, keywords)
	if err != nil {
		cancel()
		e.mu.Lock()
		e.starting = false
		e.stopPending = false
		e.lastErr = err.Error()
		e.mu.Unlock()
		span.RecordError(err)
		observe.Logger(ctx).Error("recognition: start failed", "err", err, "class", stt.Classify(err))
		e.emit(notice{status: &Status{State: StateIdle, Message: err.Error(), Err: err, Fatal: true}})
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	now := e.clk.Now()

	e.mu.Lock()
	if e.stopPending {
		e.starting = false
		e.stopPending = false
		e.mu.Unlock()
		e.release(cancel, st)
		observe.Logger(ctx).Info("recognition: stopped before listening", "label", label)
		e.emit(notice{status: &Status{State: StateIdle, Message: "stopped"}})
		return ErrStartAborted
	}
	e.starting = false
	e.state = StateListening
	e.label = label
	e.sessionID = sessionID
	e.startedAt = now
	e.ctx = gctx
	e.lastErr = ""
	e.lastExit = time.Time{}
	e.lastTranscript = now
	e.lastSpeech = time.Time{}
	e.lastRestart = time.Time{}
	e.restarts = 0
	e.transitions = nil
	e.points = nil
	e.resetTransientLocked()
	e.handle = st.handle
	e.streamCfg = st.streamCfg
	e.recorder = st.recorder
	e.restartCh = make(chan struct{}, 1)
	e.cancel = cancel
	e.group = g
	e.stopWatchdog = e.clk.Every(cfg.WatchdogInterval, e.checkStall)
	e.mu.Unlock()

	g.Go(func() error { return e.runRecognizer(gctx, st.handle) })
	if st.frames != nil {
		g.Go(func() error { return e.runAudio(gctx, st.frames, st.converter, st.recorder) })
	}

	e.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("recognition: listening", "label", label, "cards", len(e.Cards()),
		"on_device", stt.SupportsOnDevice(e.provider))
	e.emit(notice{status: &Status{State: StateListening, Message: "listening"}})
	return nil
}

// collaborators are the resources acquired by Start.
type collaborators struct {
	handle    stt.SessionHandle
	streamCfg stt.StreamConfig
	converter *audio.FormatConverter
	recorder  *audio.Recorder
	frames    <-chan audio.Frame
}

// acquire opens every collaborator or none of them.
func (e *Engine) acquire(ctx context.Context, cfg Config, label string, keywords []stt.KeywordBoost) (_ collaborators, err error) {
	var c collaborators

	c.converter, err = audio.NewFormatConverter(cfg.Format)
	if err != nil {
		return c, fmt.Errorf("recognition: audio format: %w", err)
	}
	if e.source != nil {
		if err := e.source.Format().Validate(); err != nil {
			return c, fmt.Errorf("recognition: audio source: %w", err)
		}
	}

	c.streamCfg = stt.StreamConfig{
		SampleRate:     cfg.Format.SampleRate,
		Channels:       cfg.Format.Channels,
		Language:       cfg.Language,
		Keywords:       keywords,
		PreferOnDevice: cfg.PreferOnDevice,
	}
	c.handle, err = e.provider.StartStream(ctx, c.streamCfg)
	if err != nil {
		return c, fmt.Errorf("recognition: start recognizer: %w", err)
	}
	defer func() {
		if err != nil {
			_ = c.handle.Close()
			if c.recorder != nil {
				_, _ = c.recorder.Close()
			}
		}
	}()

	if e.source == nil {
		return c, nil
	}
	if cfg.RecordDir != "" {
		path := recordingPath(cfg.RecordDir, label, e.clk.Now())
		if c.recorder, err = audio.CreateRecorder(path, cfg.Format, cfg.CompressRecording); err != nil {
			return c, fmt.Errorf("recognition: %w", err)
		}
	}
	if c.frames, err = e.source.Stream(ctx); err != nil {
		return c, fmt.Errorf("recognition: open audio source: %w", err)
	}
	return c, nil
}

// release undoes a successful acquire whose session never started.
func (e *Engine) release(cancel context.CancelFunc, c collaborators) {
	cancel()
	if err := c.handle.Close(); err != nil {
		slog.Debug("recognition: close recognizer", "err", err)
	}
	if c.recorder != nil {
		if _, err := c.recorder.Close(); err != nil {
			slog.Warn("recognition: close recording", "err", err)
		}
	}
}

func (e *Engine) keywordsLocked(boost float64) []stt.KeywordBoost {
	if boost <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []stt.KeywordBoost
	for _, c := range e.cards {
		for _, k := range c.Keywords() {
			if !seen[k] {
				seen[k] = true
				out = append(out, stt.KeywordBoost{Keyword: k, Boost: boost})
			}
		}
	}
	return out
}

// Stop ends the session and discards its summary. See [Engine.StopAndFinalize].
func (e *Engine) Stop() {
	_, _ = e.StopAndFinalize()
}

// StopAndFinalize ends the session: it cancels the watchdog and pumps,
// closes the recognizer stream, finalises the recording and clears the
// transient state. The card cursor is kept. Calling it on an engine that is
// not listening returns an empty summary and no error; during Start it makes
// Start return [ErrStartAborted] once the recognizer is acquired.
func (e *Engine) StopAndFinalize() (Summary, error) {
	e.mu.Lock()
	if e.state != StateListening {
		if e.starting {
			e.stopPending = true
		}
		e.mu.Unlock()
		return Summary{}, nil
	}
	now := e.clk.Now()
	e.state = StateFinished
	sum := Summary{
		Label:       e.label,
		SessionID:   e.sessionID,
		StartedAt:   e.startedAt,
		Duration:    now.Sub(e.startedAt),
		FinalCard:   e.current,
		Transitions: append([]Transition(nil), e.transitions...),
		DataPoints:  append([]analytics.DataPoint(nil), e.points...),
	}
	stopWatchdog, cancel, g, rec := e.stopWatchdog, e.cancel, e.group, e.recorder
	e.stopWatchdog, e.cancel, e.group, e.recorder = nil, nil, nil, nil
	ctx := e.ctx
	e.ctx = context.Background()
	e.mu.Unlock()

	stopWatchdog()
	cancel()
	var errs []error
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if rec != nil {
		r, err := rec.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("recognition: close recording: %w", err))
		}
		sum.Recording = &r
	}

	e.mu.Lock()
	e.handle = nil
	e.resetTransientLocked()
	e.mu.Unlock()

	e.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	slog.Info("recognition: stopped", "session", sum.SessionID, "duration", sum.Duration,
		"transitions", len(sum.Transitions), "final_card", sum.FinalCard)
	e.emit(notice{status: &Status{State: StateFinished, Message: "stopped"}})
	return sum, errors.Join(errs...)
}
