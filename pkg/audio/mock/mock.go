// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock is safe for concurrent use. It records calls so tests can assert
// on them, and exposes fields that control its behaviour.
//
// Typical usage:
//
//	src := &mock.Source{
//	    FormatResult: audio.Format{SampleRate: 16000, Channels: 1},
//	    Frames:       frames,
//	}
//	ch, err := src.Stream(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cadence/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by [Source.Format].
	FormatResult audio.Format

	// Frames are emitted in order by each Stream call.
	Frames []audio.Frame

	// StreamErr, when non-nil, is returned by [Source.Stream].
	StreamErr error

	// KeepOpen leaves the stream channel open after Frames are sent until
	// the stream context is cancelled.
	KeepOpen bool

	// CallCountStream records how many times Stream was called.
	CallCountStream int
}

var _ audio.Source = (*Source)(nil)

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Stream implements [audio.Source].
func (s *Source) Stream(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	s.CallCountStream++
	err := s.StreamErr
	frames := append([]audio.Frame(nil), s.Frames...)
	keepOpen := s.KeepOpen
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan audio.Frame, len(frames))
	go func() {
		defer close(out)
		for _, f := range frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if keepOpen {
			<-ctx.Done()
		}
	}()
	return out, nil
}
