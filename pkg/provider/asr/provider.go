// Package asr defines the recognition boundary: feed audio bytes in,
// get back a final transcript, an in-progress partial hypothesis, or
// nothing. The real whisper.cpp backend lives in the whisper
// subpackage; a scriptable mock lives in mock.
package asr

import (
	"context"
	"errors"
)

// ErrModelUnavailable is returned when the recognition model has not
// been loaded, for example while it is still loading asynchronously at
// process startup. Callers report it and do not retry.
var ErrModelUnavailable = errors.New("asr: recognition model unavailable")

// ResultKind discriminates the outcome of one Accept call.
type ResultKind int

const (
	// KindEmpty means the frame was consumed without producing text.
	KindEmpty ResultKind = iota
	// KindPartial is an in-progress hypothesis, replaced by the next
	// Partial or Final.
	KindPartial
	// KindFinal is a complete utterance as judged by the recognizer.
	KindFinal
)

// Result is the outcome of feeding one audio frame to a Session.
type Result struct {
	Kind ResultKind
	Text string
}

// SessionConfig describes the audio a new Session will receive.
// Zero fields fall back to the backend's defaults.
type SessionConfig struct {
	// SampleRate in Hz of the int16 PCM input.
	SampleRate int

	// Channels of the PCM input; backends may downmix internally.
	Channels int

	// Language is the BCP-47 recognition language (e.g. "en").
	Language string
}

// Pool runs CPU-bound recognition work in a bounded slot. It is
// satisfied by the process-wide worker pool; backends fall back to one
// dedicated goroutine per call when no pool is supplied.
type Pool interface {
	Run(ctx context.Context, fn func() error) error
}

// Session is one participant's recognition stream. Accept feeds one
// PCM frame and reports the recognizer's judgement; Close releases the
// session's buffers. Sessions are owned by a single caller and are not
// safe for concurrent use.
type Session interface {
	Accept(ctx context.Context, frame []byte) (Result, error)
	Close() error
}

// Provider is the abstraction over a recognition backend. The loaded
// model is shared read-only across sessions.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Ready reports whether the model is loaded and sessions can start.
	Ready() bool

	// NewSession opens a recognition stream.
	// Returns [ErrModelUnavailable] when the model is not loaded.
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
