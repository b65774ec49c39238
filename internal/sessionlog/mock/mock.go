// Package mock provides an in-memory [sessionlog.Store] for tests.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/cadence/internal/sessionlog"
)

var _ sessionlog.Store = (*Store)(nil)

// Store keeps records in a map. Set the Err fields to inject failures.
// The zero value is ready to use.
type Store struct {
	SaveErr error
	PingErr error

	mu      sync.Mutex
	records map[string]sessionlog.Record
	saves   int
	closed  bool
}

// Save implements [sessionlog.Store].
func (s *Store) Save(_ context.Context, rec sessionlog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.records == nil {
		s.records = make(map[string]sessionlog.Record)
	}
	s.records[rec.ID] = rec
	return nil
}

// Get implements [sessionlog.Store].
func (s *Store) Get(_ context.Context, id string) (sessionlog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return sessionlog.Record{}, fmt.Errorf("%w: %s", sessionlog.ErrNotFound, id)
	}
	return rec, nil
}

// List implements [sessionlog.Store].
func (s *Store) List(_ context.Context, limit int) ([]sessionlog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sessionlog.Record, 0, len(s.records))
	for _, rec := range s.records {
		rec.Payload = sessionlog.Payload{}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b sessionlog.Record) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [sessionlog.Store].
func (s *Store) Ping(context.Context) error { return s.PingErr }

// Close implements [sessionlog.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SaveCount returns the number of Save calls. Thread-safe.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
