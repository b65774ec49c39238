package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/cadence/internal/analytics"
	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/pacing"
	"github.com/MrWong99/cadence/internal/recognition"
	"github.com/MrWong99/cadence/internal/sessionlog"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/clock"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// ErrNotStarted is returned by [Session.Finalize] when the session never
// started listening.
var ErrNotStarted = errors.New("app: session was not started")

// SessionConfig holds everything one session needs.
type SessionConfig struct {
	Label  string
	Script *cue.Script

	// Teleprompter adds a pacing engine that scrolls the script's lines and
	// follows the performer's voice.
	Teleprompter bool
	LineWidth    int

	Recognition recognition.Config
	Pacing      pacing.Config

	Provider stt.Provider
	Source   audio.Source
	Store    sessionlog.Store
	Clock    clock.Clock
	Metrics  *observe.Metrics

	// Hooks and PacingHooks observe the engines, for example to render a
	// live view. They run after the session's own handling.
	Hooks       recognition.Hooks
	PacingHooks pacing.Hooks
}

// Session runs the recognition engine, and in teleprompter mode the pacing
// engine, for one performance. All exported methods are safe for concurrent
// use.
type Session struct {
	cfg     SessionConfig
	lines   []pacing.Line
	recog   *recognition.Engine
	pacer   *pacing.Engine
	locator *pacing.Locator
	metrics *observe.Metrics

	mu     sync.Mutex
	finals []string
}

// NewSession builds and configures the engines for cfg.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Script == nil || len(cfg.Script.Cards) == 0 {
		return nil, recognition.ErrNoCards
	}
	if cfg.Provider == nil {
		return nil, errors.New("app: session requires a recognizer")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Label == "" {
		cfg.Label = cfg.Script.Title
	}

	s := &Session{cfg: cfg, metrics: cfg.Metrics}

	recOpts := []recognition.Option{
		recognition.WithClock(cfg.Clock),
		recognition.WithMetrics(cfg.Metrics),
		recognition.WithHooks(s.recognitionHooks()),
	}
	if cfg.Source != nil {
		recOpts = append(recOpts, recognition.WithAudioSource(cfg.Source))
	}
	s.recog = recognition.New(cfg.Provider, cfg.Recognition, recOpts...)
	if err := s.recog.Configure(cfg.Script.Cards); err != nil {
		return nil, fmt.Errorf("app: configure cards: %w", err)
	}

	if cfg.Teleprompter {
		if err := cfg.Pacing.Validate(); err != nil {
			return nil, fmt.Errorf("app: pacing config: %w", err)
		}
		s.lines = cue.Lines(cfg.Script.Cards, cfg.LineWidth)
		s.pacer = pacing.New(cfg.Pacing,
			pacing.WithClock(cfg.Clock),
			pacing.WithMetrics(cfg.Metrics),
			pacing.WithHooks(cfg.PacingHooks),
		)
		s.pacer.Configure(s.lines)
		s.locator = pacing.NewLocator(s.lines)
	}
	return s, nil
}

// recognitionHooks feeds transcripts to the teleprompter and keeps the
// teleprompter on the current card before calling the observer hooks.
func (s *Session) recognitionHooks() recognition.Hooks {
	user := s.cfg.Hooks
	return recognition.Hooks{
		OnTranscript: func(text string, final bool) {
			if final && strings.TrimSpace(text) != "" {
				s.mu.Lock()
				s.finals = append(s.finals, strings.TrimSpace(text))
				s.mu.Unlock()
			}
			if s.pacer != nil {
				if idx, conf, ok := s.locator.Locate(text, s.pacer.Snapshot().LineIndex); ok {
					s.pacer.IngestVoiceMatch(idx, conf)
				}
			}
			if user.OnTranscript != nil {
				user.OnTranscript(text, final)
			}
		},
		OnCardTransition: func(index int, card cue.Card, t recognition.Transition) {
			if s.pacer != nil {
				s.pacer.JumpToBlock(card.ID)
			}
			if user.OnCardTransition != nil {
				user.OnCardTransition(index, card, t)
			}
		},
		OnConfidence: user.OnConfidence,
		OnStatus:     user.OnStatus,
		OnAudioLevel: user.OnAudioLevel,
	}
}

// Recognition returns the card engine.
func (s *Session) Recognition() *recognition.Engine { return s.recog }

// Pacing returns the teleprompter engine, nil outside teleprompter mode.
func (s *Session) Pacing() *pacing.Engine { return s.pacer }

// Lines returns the teleprompter lines, nil outside teleprompter mode.
func (s *Session) Lines() []pacing.Line { return s.lines }

// Mode reports how the session is driven.
func (s *Session) Mode() sessionlog.Mode {
	if s.pacer != nil {
		return sessionlog.ModeTeleprompter
	}
	return sessionlog.ModeCards
}

// Transcript returns the final transcript segments joined so far.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.finals, " ")
}

// Start begins listening and, in teleprompter mode, scrolling.
func (s *Session) Start(ctx context.Context) error {
	if err := s.recog.Start(ctx, s.cfg.Label); err != nil {
		return err
	}
	if s.pacer != nil {
		if err := s.pacer.Start(ctx); err != nil {
			s.recog.Stop()
			return fmt.Errorf("app: start pacing: %w", err)
		}
	}
	observe.Logger(ctx).Info("session started", "label", s.cfg.Label, "mode", s.Mode(),
		"cards", len(s.cfg.Script.Cards), "lines", len(s.lines))
	return nil
}

// UpdateRecognition pushes new thresholds into the running engine. They
// apply from the next transcript.
func (s *Session) UpdateRecognition(cfg recognition.Config) error {
	return s.recog.UpdateConfig(cfg)
}

// Finalize stops both engines, analyses the session and stores the record
// when a store is configured. The record is returned even if storing fails.
func (s *Session) Finalize(ctx context.Context) (sessionlog.Record, error) {
	if s.pacer != nil {
		s.pacer.Stop()
	}
	sum, stopErr := s.recog.StopAndFinalize()
	if sum.SessionID == "" {
		return sessionlog.Record{}, ErrNotStarted
	}

	transcript := s.Transcript()
	timeline, totalLines := sum.DataPoints, len(s.cfg.Script.Cards)
	if s.pacer != nil {
		timeline, totalLines = s.pacer.DataPoints(), len(s.lines)
	}
	insights := analytics.Analyze(transcript, timeline, totalLines, sum.Duration)

	rec := sessionlog.NewRecord(sum, s.Mode(), len(s.cfg.Script.Cards), totalLines, transcript, insights)
	rec.DataPoints = timeline
	rec.AverageConfidence = analytics.Summarize(timeline).Average

	var errs []error
	if stopErr != nil {
		errs = append(errs, stopErr)
	}
	if s.cfg.Store != nil {
		err := s.cfg.Store.Save(ctx, rec)
		s.metrics.RecordSessionStored(ctx, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("app: store session: %w", err))
		} else {
			slog.Info("session stored", "id", rec.ID, "insights", len(insights))
		}
	}
	return rec, errors.Join(errs...)
}
