package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every entry of a [Group] failed or had an
// open breaker.
var ErrAllFailed = errors.New("resilience: all entries failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group holds a primary value and fallbacks of the same type, each behind
// its own [CircuitBreaker]. Entries are tried in registration order.
type Group[T any] struct {
	cfg CircuitBreakerConfig

	mu      sync.RWMutex
	entries []*entry[T]
	active  string
}

// NewGroup creates a [Group] with primary as its first entry. cfg is copied
// for every entry's breaker with Name set to the entry name.
func NewGroup[T any](primaryName string, primary T, cfg CircuitBreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = append(g.entries, &entry[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Names returns the entry names in order.
func (g *Group[T]) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.entries))
	for i, e := range g.entries {
		out[i] = e.name
	}
	return out
}

// Active returns the name of the entry that last succeeded, or "" before the
// first success.
func (g *Group[T]) Active() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// State returns the breaker state of the named entry.
func (g *Group[T]) State(name string) (State, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.entries {
		if e.name == name {
			return e.breaker.State(), true
		}
	}
	return StateClosed, false
}

// Execute calls fn with each entry in turn until one succeeds.
func (g *Group[T]) Execute(fn func(T) error) error {
	_, err := Do(g, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// Do calls fn with each entry of g in turn until one succeeds and returns
// its result. Errors the breakers do not count as failures stop the
// iteration and are returned as they are. When every entry fails the error
// wraps both [ErrAllFailed] and the last failure.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	g.mu.RLock()
	entries := append([]*entry[T](nil), g.entries...)
	g.mu.RUnlock()

	var (
		zero    R
		lastErr error
	)
	for _, e := range entries {
		var result R
		err := e.breaker.Execute(func() error {
			var err error
			result, err = fn(e.value)
			return err
		})
		if err == nil {
			g.mu.Lock()
			if g.active != e.name && g.active != "" {
				slog.Info("failed over", "from", g.active, "to", e.name)
			}
			g.active = e.name
			g.mu.Unlock()
			return result, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping entry, circuit open", "name", e.name)
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		if !e.breaker.isFailure(err) {
			return zero, err
		}
		lastErr = err
		slog.Warn("entry failed, trying next", "name", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
