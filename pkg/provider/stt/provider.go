// Package stt defines the narrow recognizer interface the cue-card engine
// consumes.
//
// A recognizer wraps a real-time transcription service and exposes a uniform
// streaming interface. Once opened, a SessionHandle accepts raw PCM audio and
// emits two streams of Transcript values: low-latency partials, which replace
// each other as the recognizer refines its best guess for the current
// utterance, and finals, which close the utterance. Runtime failures arrive on
// a third channel and are classified with [Classify].
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 suits most services.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US"). An
	// empty string lets the provider pick its default.
	Language string

	// Keywords are vocabulary hints, typically the script's cue phrases.
	Keywords []KeywordBoost

	// PreferOnDevice asks for local recognition when the provider offers it.
	PreferOnDevice bool
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio matching the StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns interim transcripts for the current utterance. The
	// channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns transcripts the provider has committed to. The channel is
	// closed when the session ends.
	Finals() <-chan Transcript

	// Errors returns runtime recognition failures. The channel is closed when
	// the session ends.
	Errors() <-chan error

	// SetKeywords replaces the active keyword list without restarting the
	// session. Providers that cannot do this return [ErrNotSupported].
	SetKeywords(keywords []KeywordBoost) error

	// Close terminates the session and releases its resources. After Close
	// returns, all three channels are closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any recognition backend.
type Provider interface {
	// StartStream opens a new streaming session. Permission and availability
	// failures wrap [ErrPermissionDenied] or [ErrUnavailable].
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// OnDeviceCapable is implemented by providers that can recognise speech
// without a network round trip.
type OnDeviceCapable interface {
	SupportsOnDeviceRecognition() bool
}

// SupportsOnDevice reports whether p can recognise speech locally.
func SupportsOnDevice(p Provider) bool {
	c, ok := p.(OnDeviceCapable)
	return ok && c.SupportsOnDeviceRecognition()
}
