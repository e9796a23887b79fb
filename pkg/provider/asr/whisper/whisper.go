// Package whisper provides a recognition backend built on the
// whisper.cpp CGO bindings. The whisper.cpp static library
// (libwhisper.a) and headers (whisper.h) must be available at link time
// via LIBRARY_PATH and C_INCLUDE_PATH.
//
// whisper.cpp is a batch transcription engine, so the backend simulates
// streaming: incoming PCM is buffered, an energy-based silence detector
// segments utterances, and each completed segment is submitted as one
// inference call. Interim buffer decodes provide partial hypotheses on
// a fixed cadence while speech is ongoing.
//
// The model is loaded once, asynchronously, at construction; sessions
// requested before the load completes fail with
// [asr.ErrModelUnavailable]. The loaded model is read-only and shared
// across sessions — each inference uses a fresh whisper context.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/nvollmar/backchannel/pkg/provider/asr"
)

const (
	// bitsPerSample is fixed at 16 for the signed little-endian PCM
	// whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy (in 16-bit PCM
	// units) below which a chunk counts as silence. The maximum for
	// 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage        = "en"
	defaultSampleRate      = 16000
	defaultSilence         = 500 * time.Millisecond
	defaultMaxBuffer       = 10 * time.Second
	defaultPartialInterval = 2 * time.Second
)

// Compile-time assertion that Provider satisfies asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Provider implements asr.Provider using the whisper.cpp Go bindings.
type Provider struct {
	language        string
	sampleRate      int
	rmsThreshold    float64
	silence         time.Duration
	maxBuffer       time.Duration
	partialInterval time.Duration
	pool            asr.Pool

	ready   atomic.Bool
	mu      sync.Mutex
	model   whisperlib.Model
	loadErr error
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription (e.g.
// "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the expected PCM sample rate in Hz. This must
// match the audio delivered to Accept. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThreshold sets the consecutive-silence duration that
// flushes buffered speech to inference. Defaults to 500 ms.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxBufferDuration sets the maximum buffered audio duration before
// a forced flush. Defaults to 10 s.
func WithMaxBufferDuration(d time.Duration) Option {
	return func(p *Provider) { p.maxBuffer = d }
}

// WithPartialInterval sets how much new speech must accumulate between
// interim buffer decodes. Defaults to 2 s.
func WithPartialInterval(d time.Duration) Option {
	return func(p *Provider) { p.partialInterval = d }
}

// WithRMSThreshold overrides the silence energy threshold.
func WithRMSThreshold(t float64) Option {
	return func(p *Provider) { p.rmsThreshold = t }
}

// WithPool offloads inference to the given bounded pool. Without one,
// each inference runs on its own dedicated goroutine.
func WithPool(pool asr.Pool) Option {
	return func(p *Provider) { p.pool = pool }
}

// New creates a Provider and begins loading the model from modelPath in
// the background. It returns immediately; Ready reports load
// completion, and NewSession fails with asr.ErrModelUnavailable until
// then.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}

	p := &Provider{
		language:        defaultLanguage,
		sampleRate:      defaultSampleRate,
		rmsThreshold:    defaultRMSThreshold,
		silence:         defaultSilence,
		maxBuffer:       defaultMaxBuffer,
		partialInterval: defaultPartialInterval,
	}
	for _, o := range opts {
		o(p)
	}

	go p.load(modelPath)
	return p, nil
}

func (p *Provider) load(modelPath string) {
	start := time.Now()
	model, err := whisperlib.New(modelPath)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.loadErr = fmt.Errorf("whisper: load model %q: %w", modelPath, err)
		slog.Error("whisper model load failed", "path", modelPath, "error", err)
		return
	}
	p.model = model
	p.ready.Store(true)
	slog.Info("whisper model loaded", "path", modelPath, "duration", time.Since(start))
}

// Ready implements [asr.Provider.Ready].
func (p *Provider) Ready() bool { return p.ready.Load() }

// Close releases the model. No sessions may be started afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready.Store(false)
	if p.model != nil {
		err := p.model.Close()
		p.model = nil
		return err
	}
	return nil
}

// NewSession implements [asr.Provider.NewSession].
func (p *Provider) NewSession(ctx context.Context, cfg asr.SessionConfig) (asr.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if !p.Ready() {
		return nil, asr.ErrModelUnavailable
	}

	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return nil, asr.ErrModelUnavailable
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	return &session{
		model:        model,
		pool:         p.pool,
		language:     lang,
		sampleRate:   sr,
		channels:     ch,
		rmsThreshold: p.rmsThreshold,
		silenceMs:    int(p.silence.Milliseconds()),
		maxBufferMs:  int(p.maxBuffer.Milliseconds()),
		partialMs:    int(p.partialInterval.Milliseconds()),
	}, nil
}

// session buffers one participant's audio and drives segmentation. All
// mutable state is confined to the owning caller; sessions are not
// shared.
type session struct {
	model whisperlib.Model
	pool  asr.Pool

	language     string
	sampleRate   int
	channels     int
	rmsThreshold float64
	silenceMs    int
	maxBufferMs  int
	partialMs    int

	buffer         []byte
	hadSpeech      bool
	silenceSoFarMs int
	sincePartialMs int
	closed         bool
}

var _ asr.Session = (*session)(nil)

// Accept implements [asr.Session.Accept]. It classifies the frame as
// speech or silence by RMS energy, extends the utterance buffer, and
// runs inference when an utterance boundary is reached (Final) or
// enough new speech has accumulated for an interim decode (Partial).
func (s *session) Accept(ctx context.Context, frame []byte) (asr.Result, error) {
	if s.closed {
		return asr.Result{}, errors.New("whisper: session is closed")
	}

	chunkMs := chunkDurationMs(frame, s.sampleRate, s.channels)

	if computeRMS(frame) < s.rmsThreshold {
		if !s.hadSpeech {
			return asr.Result{}, nil
		}
		s.buffer = append(s.buffer, frame...)
		s.silenceSoFarMs += chunkMs
		if s.silenceSoFarMs >= s.silenceMs {
			return s.flush(ctx)
		}
		return asr.Result{}, nil
	}

	s.hadSpeech = true
	s.silenceSoFarMs = 0
	s.buffer = append(s.buffer, frame...)
	s.sincePartialMs += chunkMs

	if bufferedMs := chunkDurationMs(s.buffer, s.sampleRate, s.channels); s.maxBufferMs > 0 && bufferedMs >= s.maxBufferMs {
		return s.flush(ctx)
	}

	if s.partialMs > 0 && s.sincePartialMs >= s.partialMs {
		s.sincePartialMs = 0
		text, err := s.infer(ctx, s.buffer)
		if err != nil {
			return asr.Result{}, err
		}
		if text == "" {
			return asr.Result{}, nil
		}
		return asr.Result{Kind: asr.KindPartial, Text: text}, nil
	}
	return asr.Result{}, nil
}

// flush submits the buffered utterance to inference and resets the
// segmentation state.
func (s *session) flush(ctx context.Context) (asr.Result, error) {
	pcm := s.buffer
	s.buffer = nil
	s.hadSpeech = false
	s.silenceSoFarMs = 0
	s.sincePartialMs = 0

	if len(pcm) == 0 {
		return asr.Result{}, nil
	}
	text, err := s.infer(ctx, pcm)
	if err != nil {
		return asr.Result{}, err
	}
	if text == "" {
		return asr.Result{}, nil
	}
	return asr.Result{Kind: asr.KindFinal, Text: text}, nil
}

// Close implements [asr.Session.Close]. Buffered audio that never
// reached an utterance boundary is dropped.
func (s *session) Close() error {
	s.closed = true
	s.buffer = nil
	return nil
}

// infer runs whisper.cpp over the PCM buffer inside the bounded pool,
// or on a dedicated goroutine when no pool is configured.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	var (
		text string
		run  = func() error {
			var err error
			text, err = s.inferSync(pcm)
			return err
		}
	)

	if s.pool != nil {
		if err := s.pool.Run(ctx, run); err != nil {
			return "", err
		}
		return text, nil
	}

	done := make(chan error, 1)
	go func() { done <- run() }()
	select {
	case err := <-done:
		return text, err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// inferSync converts the PCM to float32, runs inference on a fresh
// whisper context, and concatenates the recognised segments. Contexts
// are not thread-safe but the shared model is.
func (s *session) inferSync(pcm []byte) (string, error) {
	samples := pcmToFloat32Mono(pcm, s.channels)

	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", s.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
