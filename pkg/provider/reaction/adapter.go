package reaction

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// defaultTimeout bounds a single classification round trip.
const defaultTimeout = 10 * time.Second

// Adapter wraps a [Classifier] backend so that classification always
// produces a valid [Label] within a bounded time:
//
//   - blank text short-circuits to [LabelIdle] without touching the
//     backend;
//   - a hard timeout caps the backend call;
//   - any error, timeout, or unrecognisable response degrades to
//     [FallbackLabel].
//
// Adapter is safe for concurrent use when the wrapped backend is.
type Adapter struct {
	backend    Classifier
	timeout    time.Duration
	onFallback func()
}

// AdapterOption configures an [Adapter].
type AdapterOption func(*Adapter)

// WithTimeout overrides the default 10 s classification timeout.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.timeout = d }
}

// WithFallbackHook registers a callback invoked whenever a
// classification degrades to the fallback label. Used for metrics.
func WithFallbackHook(fn func()) AdapterOption {
	return func(a *Adapter) { a.onFallback = fn }
}

// NewAdapter wraps backend with the adapter's degradation policy.
func NewAdapter(backend Classifier, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		backend: backend,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Classify returns a label for the utterance. It never fails: a backend
// error degrades the reaction, not the caller.
func (a *Adapter) Classify(ctx context.Context, text string, pc Context) Label {
	if strings.TrimSpace(text) == "" {
		return LabelIdle
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.backend.Classify(callCtx, text, pc)
	if err != nil {
		slog.Warn("reaction: classifier unavailable, using fallback", "err", err)
		a.fellBack()
		return FallbackLabel
	}

	label, ok := Normalize(raw)
	if !ok {
		slog.Warn("reaction: classifier returned unknown label, using fallback", "raw", raw)
		a.fellBack()
		return FallbackLabel
	}
	return label
}

func (a *Adapter) fellBack() {
	if a.onFallback != nil {
		a.onFallback()
	}
}
