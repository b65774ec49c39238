// Package pacing implements a voice-paced teleprompter scroll.
//
// The [Engine] advances a line cursor on its own fixed-rate tick and adapts
// its seconds-per-line from voice matches: it pauses on weak or absent
// speech, speeds up or slows down on sustained drift, snaps or nudges the
// cursor back onto the spoken line and learns the performer's line timing.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cadence/internal/analytics"
	"github.com/MrWong99/cadence/internal/match"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/clock"
)

var (
	// ErrNoLines is returned by [Engine.Start] before [Engine.Configure]
	// supplied any lines.
	ErrNoLines = errors.New("pacing: no lines configured")

	// ErrAlreadyRunning is returned by [Engine.Start] while the tick runs.
	ErrAlreadyRunning = errors.New("pacing: already running")
)

// Pause and stop reasons reported through [Hooks.OnPause].
const (
	ReasonManual          = "manual"
	ReasonLowConfidence   = "low_confidence"
	ReasonSilence         = "silence"
	ReasonExtendedSilence = "extended_silence"
	ReasonEnd             = "end"
	ReasonResumed         = "resumed"
)

// Hooks receive engine events. Every hook runs outside the engine lock, on
// the goroutine that caused the event. Nil hooks are skipped.
type Hooks struct {
	OnLine  func(index int, line Line)
	OnPace  func(secondsPerLine float64, predictive bool)
	OnPause func(paused bool, reason string)
}

// Snapshot is a copy of the scroll state.
type Snapshot struct {
	LineIndex             int
	Lines                 int
	Scrolling             bool
	AutoPaused            bool
	Predictive            bool
	SecondsPerLine        float64
	BaseSecondsPerLine    float64
	LastVoiceMatchedIndex int
	Drift                 []int
	Confidences           []float64
}

// Option configures an [Engine].
type Option func(*Engine)

// WithClock sets the clock driving ticks and silence detection.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithHooks sets the event hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the continuous scroll pacing engine. All methods are safe for
// concurrent use; a single mutex serialises state changes so ticks and voice
// matches never interleave.
type Engine struct {
	cfg     Config
	clk     clock.Clock
	hooks   Hooks
	metrics *observe.Metrics

	mu          sync.Mutex
	ctx         context.Context
	lines       []Line
	current     int
	scrolling   bool
	autoPaused  bool
	predictive  bool
	base        float64 // seconds per line
	pace        float64 // seconds per line
	accum       float64 // seconds since the last line change
	lastTick    time.Time
	lastMatch   time.Time
	matched     int
	drift       []int
	conf        []float64
	timings     []float64
	progressAt  time.Time
	progressIdx int
	origin      time.Time
	points      []analytics.DataPoint
	cancelTick  clock.Cancel
}

// New creates an Engine. cfg is used as given; call [Config.Validate] first
// when it comes from user input.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		clk:     clock.Real{},
		ctx:     context.Background(),
		matched: -1,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.base = e.clampBase(0)
	e.pace = e.base
	e.resetHistoryLocked()
	return e
}

// event collects hook invocations while the lock is held.
type event struct {
	line       bool
	pace       bool
	pause      bool
	paused     bool
	reason     string
	index      int
	l          Line
	secs       float64
	predictive bool
}

func (e *Engine) emit(ev event) {
	if ev.line && e.hooks.OnLine != nil {
		e.hooks.OnLine(ev.index, ev.l)
	}
	if ev.pace && e.hooks.OnPace != nil {
		e.hooks.OnPace(ev.secs, ev.predictive)
	}
	if ev.pause && e.hooks.OnPause != nil {
		e.hooks.OnPause(ev.paused, ev.reason)
	}
}

// Configure replaces the line list, derives the base pace from the average
// words per line at the configured speaking rate and resets all state.
// A running tick keeps running on the new lines.
func (e *Engine) Configure(lines []Line) {
	e.mu.Lock()
	e.lines = append([]Line(nil), lines...)
	words := 0
	for _, l := range e.lines {
		words += l.words()
	}
	var avg float64
	if len(e.lines) > 0 {
		avg = float64(words) / float64(len(e.lines))
	}
	e.base = e.clampBase(avg / (e.cfg.WordsPerMinute / 60))
	e.pace = e.base
	e.current = 0
	e.origin = e.clk.Now()
	e.points = nil
	e.resetHistoryLocked()
	ev := e.paceEventLocked()
	e.mu.Unlock()

	slog.Debug("pacing: configured", "lines", len(lines), "base_seconds", ev.secs)
	e.emit(ev)
}

func (e *Engine) clampBase(secs float64) float64 {
	return math.Min(math.Max(secs, e.cfg.MinBase.Seconds()), e.cfg.MaxBase.Seconds())
}

func (e *Engine) resetHistoryLocked() {
	e.accum = 0
	e.drift = nil
	e.conf = nil
	e.timings = nil
	e.predictive = false
	e.matched = -1
	e.progressAt = time.Time{}
	e.progressIdx = -1
}

// Start begins scrolling and schedules [Engine.Tick] on the clock.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if len(e.lines) == 0 {
		e.mu.Unlock()
		return ErrNoLines
	}
	if e.cancelTick != nil {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	now := e.clk.Now()
	e.ctx = ctx
	e.origin = now
	e.lastTick = now
	e.lastMatch = now
	e.scrolling = true
	e.autoPaused = false
	e.cancelTick = e.clk.Every(e.cfg.TickInterval, e.Tick)
	e.mu.Unlock()

	observe.Logger(ctx).Info("pacing: scrolling started", "seconds_per_line", e.SecondsPerLine())
	return nil
}

// Stop cancels the tick and stops scrolling. It is safe to call in any state
// and more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancelTick
	e.cancelTick = nil
	wasScrolling := e.scrolling
	e.scrolling = false
	e.autoPaused = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasScrolling {
		e.emit(event{pause: true, paused: true, reason: ReasonManual})
	}
}

// Pause stops scrolling until [Engine.Resume]. Voice matches never undo a
// manual pause.
func (e *Engine) Pause() {
	e.mu.Lock()
	if !e.scrolling {
		e.autoPaused = false
		e.mu.Unlock()
		return
	}
	e.scrolling = false
	e.autoPaused = false
	e.mu.Unlock()
	e.emit(event{pause: true, paused: true, reason: ReasonManual})
}

// Resume restarts scrolling and resets the silence timer.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.scrolling || len(e.lines) == 0 {
		e.mu.Unlock()
		return
	}
	now := e.clk.Now()
	e.scrolling = true
	e.autoPaused = false
	e.lastMatch = now
	e.lastTick = now
	e.mu.Unlock()
	e.emit(event{pause: true, paused: false, reason: ReasonManual})
}

// Reset moves the cursor to line index (clamped) and clears drift,
// confidence and timing history and the learned pace.
func (e *Engine) Reset(index int) {
	e.mu.Lock()
	if len(e.lines) == 0 {
		e.mu.Unlock()
		return
	}
	e.current = clampIndex(index, len(e.lines))
	e.pace = e.base
	e.resetHistoryLocked()
	ev := e.paceEventLocked()
	ev.line, ev.index, ev.l = true, e.current, e.lines[e.current]
	e.mu.Unlock()
	e.emit(ev)
}

// JumpToBlock moves the cursor to the first line of block id. It reports
// whether the block exists.
func (e *Engine) JumpToBlock(id uuid.UUID) bool {
	e.mu.Lock()
	for i, l := range e.lines {
		if l.Block == id {
			e.current = i
			e.accum = 0
			e.drift = nil
			e.mu.Unlock()
			e.emit(event{line: true, index: i, l: l})
			return true
		}
	}
	e.mu.Unlock()
	return false
}

// Tick advances the cursor by one line once the time accumulated while
// scrolling reaches the current pace. The overshoot is carried into the next
// line. Scrolling pauses after the silence window and stops at the last
// line or after extended silence.
func (e *Engine) Tick() {
	e.mu.Lock()
	now := e.clk.Now()
	elapsed := now.Sub(e.lastTick)
	e.lastTick = now
	if !(e.scrolling || e.autoPaused) || len(e.lines) == 0 || elapsed <= 0 {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx

	// Extended silence ends the session's scrolling even when a silence or
	// low-confidence pause is waiting to resume.
	silent := now.Sub(e.lastMatch)
	switch {
	case e.cfg.SilenceStop > 0 && silent > e.cfg.SilenceStop:
		e.scrolling = false
		e.autoPaused = false
		e.mu.Unlock()
		e.metrics.RecordAutoPause(ctx, ReasonExtendedSilence)
		e.emit(event{pause: true, paused: true, reason: ReasonExtendedSilence})
		return
	case !e.scrolling:
		e.mu.Unlock()
		return
	case e.cfg.SilencePause > 0 && silent > e.cfg.SilencePause:
		e.scrolling = false
		e.autoPaused = true
		e.mu.Unlock()
		e.metrics.RecordAutoPause(ctx, ReasonSilence)
		e.emit(event{pause: true, paused: true, reason: ReasonSilence})
		return
	}

	var ev event
	e.accum += elapsed.Seconds()
	if e.accum >= e.pace && e.current < len(e.lines)-1 {
		e.accum -= e.pace
		e.current++
		ev.line, ev.index, ev.l = true, e.current, e.lines[e.current]
	}
	if e.current >= len(e.lines)-1 {
		e.scrolling = false
		e.autoPaused = false
		ev.pause, ev.paused, ev.reason = true, true, ReasonEnd
	}
	e.mu.Unlock()
	e.emit(ev)
}

// IngestVoiceMatch feeds the line the performer's speech was matched to.
// In order it applies the pause/resume hysteresis, adapts speed to
// the mean drift, snaps or nudges the cursor and updates the learned
// pace.
func (e *Engine) IngestVoiceMatch(lineIndex int, confidence float64) {
	e.mu.Lock()
	if len(e.lines) == 0 {
		e.mu.Unlock()
		return
	}
	now := e.clk.Now()
	confidence = match.Clamp01(confidence)
	lineIndex = clampIndex(lineIndex, len(e.lines))
	sinceLast := time.Duration(math.MaxInt64)
	if !e.lastMatch.IsZero() {
		sinceLast = now.Sub(e.lastMatch)
	}
	e.lastMatch = now
	e.matched = lineIndex
	e.points = append(e.points, analytics.DataPoint{At: now.Sub(e.origin), Confidence: confidence, Index: lineIndex})
	e.conf = pushFloat(e.conf, confidence, e.cfg.DriftWindow)

	var ev event
	var corrections []string
	prevPace := e.pace

	// Pause/resume hysteresis.
	switch {
	case e.scrolling && confidence < e.cfg.PauseBelow:
		e.scrolling = false
		e.autoPaused = true
		ev.pause, ev.paused, ev.reason = true, true, ReasonLowConfidence
	case !e.scrolling && e.autoPaused && confidence > e.cfg.ResumeAbove:
		e.scrolling = true
		e.autoPaused = false
		e.lastTick = now
		ev.pause, ev.paused, ev.reason = true, false, ReasonResumed
	}

	// Speed adaptation.
	drift := lineIndex - e.current
	e.drift = pushInt(e.drift, drift, e.cfg.DriftWindow)
	if sign := driftSign(e.drift, e.cfg.DriftMinSamples); sign != 0 {
		if sign > 0 {
			e.pace *= 1 - e.cfg.SpeedAdjust
			corrections = append(corrections, "speed_up")
		} else {
			e.pace *= 1 + e.cfg.SpeedAdjust
			corrections = append(corrections, "slow_down")
		}
		e.pace = e.clampPace(e.pace)
	}

	// Position correction.
	abs := max(drift, -drift)
	switch {
	case abs > e.cfg.HardDrift && confidence > e.cfg.HardConfidence:
		e.current = lineIndex
		e.accum = 0
		e.drift = nil
		corrections = append(corrections, "hard")
		ev.line, ev.index, ev.l = true, e.current, e.lines[e.current]
	case abs >= 1 && abs <= 2 && confidence > e.cfg.SoftConfidence && sinceLast >= e.cfg.SoftInterval:
		e.current = lineIndex
		e.accum = 0
		corrections = append(corrections, "soft")
		ev.line, ev.index, ev.l = true, e.current, e.lines[e.current]
	}

	// Predictive pacing.
	if e.learnLocked(lineIndex, now) {
		corrections = append(corrections, "predictive")
	}

	if e.pace != prevPace {
		p := e.paceEventLocked()
		ev.pace, ev.secs, ev.predictive = true, p.secs, p.predictive
	}
	ctx := e.ctx
	e.mu.Unlock()

	for _, c := range corrections {
		e.metrics.RecordCorrection(ctx, c)
	}
	if ev.pause && ev.paused {
		e.metrics.RecordAutoPause(ctx, ev.reason)
	}
	if ev.pace {
		e.metrics.ScrollPace.Record(ctx, ev.secs)
	}
	if len(corrections) > 0 {
		slog.Debug("pacing: corrected", "line", lineIndex, "drift", drift,
			"confidence", confidence, "corrections", corrections, "seconds_per_line", ev.secs)
	}
	e.emit(ev)
}

// learnLocked records the per-line time between forward voice matches and,
// once enough samples exist, blends the learned pace with the base pace.
// It reports whether the pace was changed.
func (e *Engine) learnLocked(lineIndex int, now time.Time) bool {
	if lineIndex <= e.progressIdx {
		return false
	}
	if !e.progressAt.IsZero() && e.progressIdx >= 0 {
		per := now.Sub(e.progressAt).Seconds() / float64(lineIndex-e.progressIdx)
		if e.cfg.SilenceStop <= 0 || per <= e.cfg.SilenceStop.Seconds() {
			e.timings = pushFloat(e.timings, per, e.cfg.PredictWindow)
		}
	}
	e.progressAt = now
	e.progressIdx = lineIndex

	if len(e.timings) < e.cfg.PredictMinSamples {
		return false
	}
	var sum float64
	for _, t := range e.timings {
		sum += t
	}
	learned := sum / float64(len(e.timings))
	blended := e.clampPace(e.cfg.PredictWeight*learned + (1-e.cfg.PredictWeight)*e.base)
	if math.Abs(blended-e.pace) <= e.cfg.PredictDivergence.Seconds() {
		return false
	}
	e.pace = blended
	e.predictive = true
	return true
}

func (e *Engine) clampPace(p float64) float64 {
	lo := math.Max(e.base*e.cfg.MinFactor, e.cfg.Floor.Seconds())
	hi := math.Max(e.base*e.cfg.MaxFactor, lo)
	return math.Min(math.Max(p, lo), hi)
}

func (e *Engine) paceEventLocked() event {
	return event{pace: true, secs: e.pace, predictive: e.predictive}
}

// SecondsPerLine returns the current adaptive pace.
func (e *Engine) SecondsPerLine() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pace
}

// Snapshot returns a copy of the scroll state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		LineIndex:             e.current,
		Lines:                 len(e.lines),
		Scrolling:             e.scrolling,
		AutoPaused:            e.autoPaused,
		Predictive:            e.predictive,
		SecondsPerLine:        e.pace,
		BaseSecondsPerLine:    e.base,
		LastVoiceMatchedIndex: e.matched,
		Drift:                 append([]int(nil), e.drift...),
		Confidences:           append([]float64(nil), e.conf...),
	}
}

// DataPoints returns the voice-match timeline recorded since the last
// [Engine.Configure] or [Engine.Start].
func (e *Engine) DataPoints() []analytics.DataPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]analytics.DataPoint(nil), e.points...)
}

// String implements [fmt.Stringer] for log output.
func (s Snapshot) String() string {
	return fmt.Sprintf("line %d/%d pace %.2fs scrolling=%t", s.LineIndex+1, s.Lines, s.SecondsPerLine, s.Scrolling)
}

func clampIndex(i, n int) int {
	return min(max(i, 0), n-1)
}

// driftDeadBand is the mean drift, in lines, below which the pace is left
// alone.
const driftDeadBand = 0.5

// driftSign returns the sign of the mean of window once it holds at least n
// samples, or 0 while the mean stays inside the dead band.
func driftSign(window []int, n int) int {
	if len(window) == 0 || len(window) < n {
		return 0
	}
	sum := 0
	for _, d := range window {
		sum += d
	}
	mean := float64(sum) / float64(len(window))
	switch {
	case mean >= driftDeadBand:
		return 1
	case mean <= -driftDeadBand:
		return -1
	default:
		return 0
	}
}

func pushInt(w []int, v, size int) []int {
	w = append(w, v)
	if len(w) > size {
		w = w[len(w)-size:]
	}
	return w
}

func pushFloat(w []float64, v float64, size int) []float64 {
	w = append(w, v)
	if len(w) > size {
		w = w[len(w)-size:]
	}
	return w
}
