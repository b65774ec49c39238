package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// Recognizer is an [stt.Provider] that fails over across several speech
// recognizers. Every stream start, including the watchdog's restarts, goes
// to the first recognizer whose breaker is not open.
type Recognizer struct {
	group *Group[stt.Provider]
}

var (
	_ stt.Provider        = (*Recognizer)(nil)
	_ stt.OnDeviceCapable = (*Recognizer)(nil)
)

// NewRecognizer creates a [Recognizer] with primary as the preferred
// backend. Cancelled starts do not count against a breaker.
func NewRecognizer(primaryName string, primary stt.Provider, cfg CircuitBreakerConfig) *Recognizer {
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAgainstRecognizer
	}
	return &Recognizer{group: NewGroup(primaryName, primary, cfg)}
}

func countsAgainstRecognizer(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// AddFallback registers another recognizer after the ones already added.
func (r *Recognizer) AddFallback(name string, p stt.Provider) {
	r.group.Add(name, p)
}

// Names returns the recognizer names in failover order.
func (r *Recognizer) Names() []string { return r.group.Names() }

// Active returns the name of the recognizer that opened the last stream.
func (r *Recognizer) Active() string { return r.group.Active() }

// State returns the breaker state of the named recognizer.
func (r *Recognizer) State(name string) (State, bool) { return r.group.State(name) }

// StartStream opens a stream on the first healthy recognizer.
func (r *Recognizer) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Do(r.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// SupportsOnDeviceRecognition reports whether the primary recognizer works
// on-device.
func (r *Recognizer) SupportsOnDeviceRecognition() bool {
	r.group.mu.RLock()
	defer r.group.mu.RUnlock()
	return stt.SupportsOnDevice(r.group.entries[0].value)
}
