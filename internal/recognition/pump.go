package recognition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// runRecognizer owns the recognizer stream for the life of a session. It
// delivers transcripts and errors to the engine and swaps in a fresh stream
// whenever the watchdog asks for one.
func (e *Engine) runRecognizer(ctx context.Context, h stt.SessionHandle) error {
	for {
		if !e.consume(ctx, h) {
			if h != nil {
				_ = h.Close()
			}
			return nil
		}
		h = e.restartRecognizer(ctx, h)
	}
}

// consume forwards h's events until a restart is requested (true) or ctx
// ends (false). Once all of h's channels are closed it only waits.
func (e *Engine) consume(ctx context.Context, h stt.SessionHandle) bool {
	var (
		partials, finals <-chan stt.Transcript
		errs             <-chan error
		restart          = e.restartChan()
	)
	if h != nil {
		partials, finals, errs = h.Partials(), h.Finals(), h.Errors()
	}
	ended := h == nil
	for {
		select {
		case <-ctx.Done():
			return false
		case <-restart:
			return true
		case t, ok := <-partials:
			if !ok {
				partials = nil
				break
			}
			e.IngestTranscript(EventFromTranscript(t))
		case t, ok := <-finals:
			if !ok {
				finals = nil
				break
			}
			e.IngestTranscript(EventFromTranscript(t))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				break
			}
			e.handleRecognizerError(err)
		}
		if !ended && partials == nil && finals == nil && errs == nil {
			ended = true
			observe.Logger(ctx).Info("recognition: recognizer stream ended")
		}
	}
}

func (e *Engine) restartChan() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restartCh
}

// restartRecognizer closes old and opens a new stream with the session's
// stream config. It returns nil when the new stream could not be opened;
// the watchdog will ask again.
func (e *Engine) restartRecognizer(ctx context.Context, old stt.SessionHandle) stt.SessionHandle {
	e.mu.Lock()
	e.handle = nil
	cfg := e.streamCfg
	state := e.state
	e.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	log := observe.Logger(ctx)
	log.Warn("recognition: restarting stalled recognizer")
	e.emit(notice{status: &Status{State: state, Message: "restarting recognizer"}})

	h, err := e.provider.StartStream(ctx, cfg)
	if ctx.Err() != nil {
		if h != nil {
			_ = h.Close()
		}
		return nil
	}
	e.metrics.RecordWatchdogRestart(ctx, err)
	if err != nil {
		e.surface(fmt.Errorf("recognition: restart recognizer: %w", err))
		return nil
	}

	e.mu.Lock()
	e.handle = h
	e.lastTranscript = e.clk.Now()
	e.mu.Unlock()
	log.Info("recognition: recognizer restarted")
	return h
}

// handleRecognizerError applies the error taxonomy: benign errors are
// dropped, everything else is surfaced while the session keeps running.
func (e *Engine) handleRecognizerError(err error) {
	class := stt.Classify(err)
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	e.metrics.RecordRecognizerError(ctx, class.String())
	if class == stt.Benign {
		observe.Logger(ctx).Debug("recognition: ignoring recognizer error", "err", err)
		return
	}
	e.surface(fmt.Errorf("recognition: recognizer: %w", err))
}

// checkStall runs on the watchdog schedule. It requests a restart when the
// performer has been speaking but no transcript arrived for StallTimeout.
func (e *Engine) checkStall() {
	e.mu.Lock()
	if e.state != StateListening {
		e.mu.Unlock()
		return
	}
	now := e.clk.Now()
	timeout := e.cfg.StallTimeout
	stalled := !e.lastSpeech.IsZero() &&
		e.lastSpeech.After(e.lastTranscript) &&
		now.Sub(e.lastSpeech) <= timeout &&
		now.Sub(e.lastTranscript) > timeout &&
		(e.lastRestart.IsZero() || now.Sub(e.lastRestart) > timeout)
	if stalled {
		e.lastRestart = now
		e.restarts++
	}
	ch := e.restartCh
	e.mu.Unlock()

	if stalled {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) currentHandle() stt.SessionHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

// runAudio converts source frames to the recognizer format, meters them,
// forwards them to the active stream and records them.
func (e *Engine) runAudio(ctx context.Context, frames <-chan audio.Frame, conv *audio.FormatConverter, rec *audio.Recorder) error {
	var recordFailed bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				observe.Logger(ctx).Info("recognition: audio source ended")
				return nil
			}
			out, err := conv.Convert(f)
			if err != nil {
				e.surface(fmt.Errorf("recognition: convert audio: %w", err))
				continue
			}
			if len(out.Data) == 0 {
				continue
			}
			e.IngestAudioLevel(audio.Level(out.Data, audio.DefaultFloorDB))
			if h := e.currentHandle(); h != nil {
				if err := h.SendAudio(out.Data); err != nil {
					observe.Logger(ctx).Debug("recognition: send audio", "err", err)
				}
			}
			if rec != nil && !recordFailed {
				if err := rec.Write(out); err != nil && !errors.Is(err, context.Canceled) {
					recordFailed = true
					e.surface(fmt.Errorf("recognition: record audio: %w", err))
				}
			}
		}
	}
}

// recordingPath names a recording after the session label and start time.
func recordingPath(dir, label string, at time.Time) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		default:
			return '-'
		}
	}, strings.TrimSpace(label))
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "session"
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.pcm", slug, at.UTC().Format("20060102-150405")))
}
