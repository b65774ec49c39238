package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Source produces the performer's microphone audio.
type Source interface {
	// Format returns the format of every frame the source emits.
	Format() Format

	// Stream starts producing frames. The returned channel is closed when the
	// input is exhausted, fails, or ctx is cancelled.
	Stream(ctx context.Context) (<-chan Frame, error)
}

// ReaderOption is a functional option for [NewReaderSource].
type ReaderOption func(*ReaderSource)

// WithFrameDuration sets how much audio each emitted frame carries.
// Default: 20ms.
func WithFrameDuration(d time.Duration) ReaderOption {
	return func(s *ReaderSource) {
		if d > 0 {
			s.frameDur = d
		}
	}
}

// WithRealtime paces emission to the audio's playback rate, for replaying
// recorded files as if they were live.
func WithRealtime(enabled bool) ReaderOption {
	return func(s *ReaderSource) {
		s.realtime = enabled
	}
}

// WithCloser closes c once the stream ends.
func WithCloser(c io.Closer) ReaderOption {
	return func(s *ReaderSource) {
		s.closer = c
	}
}

// ReaderSource reads raw little-endian int16 PCM from an [io.Reader], such as
// stdin or a file.
type ReaderSource struct {
	r        io.Reader
	format   Format
	frameDur time.Duration
	realtime bool
	closer   io.Closer
}

var _ Source = (*ReaderSource)(nil)

// NewReaderSource returns a source reading PCM in format from r.
func NewReaderSource(r io.Reader, format Format, opts ...ReaderOption) (*ReaderSource, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("audio: new reader source: %w", err)
	}
	s := &ReaderSource{r: r, format: format, frameDur: 20 * time.Millisecond}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// OpenSource opens a PCM source by name: "-" or "stdin" read standard input,
// anything else is a file path played back in real time.
func OpenSource(name string, format Format) (*ReaderSource, error) {
	if name == "" || name == "-" || name == "stdin" {
		return NewReaderSource(os.Stdin, format)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("audio: open source %q: %w", name, err)
	}
	src, err := NewReaderSource(f, format, WithRealtime(true), WithCloser(f))
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// Format implements [Source].
func (s *ReaderSource) Format() Format { return s.format }

// Stream implements [Source].
func (s *ReaderSource) Stream(ctx context.Context) (<-chan Frame, error) {
	frameBytes := s.format.BytesPerSecond() * int(s.frameDur/time.Millisecond) / 1000
	frameBytes -= frameBytes % (2 * s.format.Channels)
	if frameBytes <= 0 {
		return nil, fmt.Errorf("audio: stream: frame duration %s too short", s.frameDur)
	}

	out := make(chan Frame, 16)
	go func() {
		defer close(out)
		if s.closer != nil {
			defer s.closer.Close()
		}

		var ticker *time.Ticker
		if s.realtime {
			ticker = time.NewTicker(s.frameDur)
			defer ticker.Stop()
		}

		var ts time.Duration
		for {
			buf := make([]byte, frameBytes)
			n, err := io.ReadFull(s.r, buf)
			if n > 0 {
				frame := Frame{Data: buf[:n-n%2], SampleRate: s.format.SampleRate, Channels: s.format.Channels, Timestamp: ts}
				ts += frame.Duration()
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("audio: source read failed", "err", err)
				}
				return
			}
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
