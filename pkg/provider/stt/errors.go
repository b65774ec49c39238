package stt

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the recognizer cannot be reached or is not
	// installed. Fatal to starting a session.
	ErrUnavailable = errors.New("stt: recognizer unavailable")

	// ErrPermissionDenied means the microphone or recognition service refused
	// access. Fatal to starting a session.
	ErrPermissionDenied = errors.New("stt: permission denied")

	// ErrNoSpeech is reported when a recognition window closes without any
	// speech. Harmless.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrCanceled is reported when a recognition request is torn down during a
	// restart or transition. Harmless.
	ErrCanceled = errors.New("stt: recognition canceled")

	// ErrNotSupported is returned for optional operations a provider lacks.
	ErrNotSupported = errors.New("stt: not supported")
)

// Class tells the engine how to react to a recognizer error.
type Class int

const (
	// Benign errors are swallowed without any state change or message.
	Benign Class = iota

	// Surfaced errors are shown to the performer while the session continues.
	Surfaced

	// Fatal errors stop the session.
	Fatal
)

// String returns the lower-case class name, used as a metric attribute.
func (c Class) String() string {
	switch c {
	case Benign:
		return "benign"
	case Fatal:
		return "fatal"
	default:
		return "surfaced"
	}
}

// Classify maps a recognizer error onto a [Class]. A nil error is benign.
func Classify(err error) Class {
	switch {
	case err == nil,
		errors.Is(err, ErrNoSpeech),
		errors.Is(err, ErrCanceled),
		errors.Is(err, context.Canceled):
		return Benign
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrPermissionDenied):
		return Fatal
	default:
		return Surfaced
	}
}
