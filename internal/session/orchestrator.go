// Package session implements the per-participant orchestrator: it owns
// one live connection from accept to teardown, multiplexes audio
// ingestion, recognition, delivery metrics, and reaction classification
// into the participant's Profile, and pushes reaction events back over
// the socket.
//
// Lifecycle: Connecting → Active → Draining → Closed. A session becomes
// Active only when the recognition model is ready; it drains on idle
// timeout, peer disconnect, transport failure, or replacement by a new
// connection for the same identity; Closed is terminal and idempotent.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nvollmar/backchannel/internal/delivery"
	"github.com/nvollmar/backchannel/internal/observe"
	"github.com/nvollmar/backchannel/internal/profile"
	"github.com/nvollmar/backchannel/pkg/audio"
	"github.com/nvollmar/backchannel/pkg/provider/asr"
	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

// State is the session lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	defaultIdleTimeout       = 30 * time.Second
	defaultHeartbeatInterval = 10 * time.Second

	// writeTimeout bounds every outbound event write.
	writeTimeout = 5 * time.Second

	// frameQueueSize buffers inbound audio between the reader and the
	// sequential pipeline.
	frameQueueSize = 64
)

// stopKind records why a session began draining.
type stopKind int

const (
	stopIdle stopKind = iota
	stopPeerClosed
	stopTransport
	stopShutdown
	stopFatal
)

// Config assembles a Session's collaborators. Identity, Transport,
// Recognizer, Classifier, and Registry are required.
type Config struct {
	Identity   string
	Transport  Transport
	Recognizer asr.Provider
	Classifier *reaction.Adapter
	Registry   *profile.Registry

	// Decoder converts inbound payloads to PCM16. Defaults to the raw
	// PCM16 pass-through.
	Decoder audio.FrameDecoder

	// IdleTimeout drains the session when no inbound frame arrives
	// within it. Defaults to 30s.
	IdleTimeout time.Duration

	// HeartbeatInterval is the outbound ping cadence. Defaults to 10s.
	HeartbeatInterval time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Session orchestrates one participant connection. Create with New,
// drive with Run, stop early with Close.
type Session struct {
	id         string
	identity   string
	transport  Transport
	recognizer asr.Provider
	classifier *reaction.Adapter
	registry   *profile.Registry
	decoder    audio.FrameDecoder

	idleTimeout time.Duration
	heartbeat   time.Duration
	metrics     *observe.Metrics
	logger      *slog.Logger
	now         func() time.Time

	state  atomic.Int32
	frames chan []byte

	stopOnce sync.Once
	stopped  chan struct{}
	reason   stopKind
	stopErr  error

	done chan struct{}

	// Bound in Run.
	profile *profile.Profile
	tracker *delivery.Tracker
	rec     asr.Session
}

// Compile-time assertion that Session can live in the registry.
var _ profile.ActiveSession = (*Session)(nil)

// New creates a Session in the Connecting state.
func New(cfg Config) (*Session, error) {
	if cfg.Identity == "" {
		return nil, errors.New("session: identity must not be empty")
	}
	if cfg.Transport == nil || cfg.Recognizer == nil || cfg.Classifier == nil || cfg.Registry == nil {
		return nil, errors.New("session: transport, recognizer, classifier, and registry are required")
	}

	s := &Session{
		id:          uuid.NewString(),
		identity:    cfg.Identity,
		transport:   cfg.Transport,
		recognizer:  cfg.Recognizer,
		classifier:  cfg.Classifier,
		registry:    cfg.Registry,
		decoder:     cfg.Decoder,
		idleTimeout: cfg.IdleTimeout,
		heartbeat:   cfg.HeartbeatInterval,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Clock,
		frames:      make(chan []byte, frameQueueSize),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.decoder == nil {
		s.decoder = audio.PCM16Decoder{}
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.heartbeat <= 0 {
		s.heartbeat = defaultHeartbeatInterval
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("identity", s.identity, "session_id", s.id)
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// ID returns the session instance identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run drives the session to completion: it registers with the
// registry, binds a recognition stream and a fresh metrics tracker,
// then pumps frames until the session drains. It returns nil for
// graceful endings (idle timeout, peer disconnect, replacement) and an
// error for transport or recognition failures.
func (s *Session) Run(ctx context.Context) (err error) {
	defer close(s.done)
	defer s.setState(StateClosed)
	defer s.transport.Close("session closed")

	prof, err := s.registry.Attach(ctx, s.identity, s)
	if err != nil {
		return fmt.Errorf("session: attach %q: %w", s.identity, err)
	}
	defer s.registry.Detach(s.identity, s)

	s.profile = prof
	s.tracker = delivery.NewTracker(delivery.WithClock(s.now))

	if !s.recognizer.Ready() {
		return s.failSetup(ctx, asr.ErrModelUnavailable)
	}
	rec, err := s.recognizer.NewSession(ctx, asr.SessionConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	if err != nil {
		return s.failSetup(ctx, err)
	}
	defer rec.Close()
	s.rec = rec

	s.setState(StateActive)
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	s.logger.Info("session active")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.readLoop(runCtx) }()
	go func() { defer wg.Done(); s.heartbeatLoop(runCtx) }()

	err = s.pipelineLoop(runCtx)

	// Draining: cancel and join the reader and heartbeat so no timer
	// outlives the session.
	cancel()
	wg.Wait()

	if s.drainReason() == stopTransport {
		// Best effort; the transport is likely already gone.
		wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		_ = s.transport.WriteEvent(wctx, newErrorEvent("connection error"))
		wcancel()
	}

	s.logger.Info("session closed", "reason", s.drainReasonString(), "error", err)
	return err
}

// failSetup reports a setup failure to the peer and leaves the session
// Closed without ever becoming Active.
func (s *Session) failSetup(ctx context.Context, cause error) error {
	s.metrics.RecordSessionError(ctx, "model_unavailable")
	s.logger.Warn("session setup failed", "error", cause)

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = s.transport.WriteEvent(wctx, newErrorEvent("recognition model unavailable"))
	return cause
}

// Close drains the session and blocks until Run has finished its
// cleanup, bounded by ctx. It is idempotent and satisfies the
// registry's ActiveSession contract.
func (s *Session) Close(ctx context.Context) error {
	s.stop(stopShutdown, nil)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop begins draining. The first caller wins; later reasons are
// ignored.
func (s *Session) stop(kind stopKind, err error) {
	s.stopOnce.Do(func() {
		s.reason = kind
		s.stopErr = err
		s.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
		close(s.stopped)
	})
}

func (s *Session) drainReason() stopKind {
	select {
	case <-s.stopped:
		return s.reason
	default:
		return stopShutdown
	}
}

func (s *Session) drainReasonString() string {
	switch s.drainReason() {
	case stopIdle:
		return "idle_timeout"
	case stopPeerClosed:
		return "peer_closed"
	case stopTransport:
		return "transport_error"
	case stopShutdown:
		return "shutdown"
	case stopFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// pipelineLoop is the session's sequential control loop: one frame at a
// time, one finalized utterance's pipeline committed before the next
// begins.
func (s *Session) pipelineLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.stop(stopShutdown, nil)
			return nil
		case <-s.stopped:
			return s.stopErr
		case data := <-s.frames:
			if err := s.handleFrame(ctx, data); err != nil {
				s.stop(stopFatal, err)
				return err
			}
		}
	}
}

// handleFrame decodes one audio payload, feeds it to recognition, and
// dispatches on the outcome. A malformed frame is reported and skipped;
// a vanished model is fatal.
func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	pcm, err := s.decoder.Decode(data)
	if err != nil {
		s.metrics.RecordSessionError(ctx, "decode")
		s.logger.Warn("dropping malformed audio frame", "error", err)
		s.writeEvent(ctx, newErrorEvent("malformed audio frame"))
		return nil
	}
	s.metrics.FramesProcessed.Add(ctx, 1)

	start := time.Now()
	res, err := s.rec.Accept(ctx, pcm)
	s.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, asr.ErrModelUnavailable) {
			s.metrics.RecordSessionError(ctx, "model_unavailable")
			s.writeEvent(ctx, newErrorEvent("recognition model unavailable"))
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		s.metrics.RecordSessionError(ctx, "decode")
		s.logger.Warn("recognition failed for frame", "error", err)
		s.writeEvent(ctx, newErrorEvent("recognition failed"))
		return nil
	}

	switch res.Kind {
	case asr.KindPartial:
		return s.emit(ctx, newPartialEvent(res.Text, s.now()))
	case asr.KindFinal:
		return s.handleFinal(ctx, res.Text)
	default:
		return nil
	}
}

// handleFinal runs the metrics-update-then-classify pipeline for one
// finalized utterance. The Profile writes in steps 1–3 are committed
// before classification, so a classifier failure degrades the reaction
// but never the metrics.
func (s *Session) handleFinal(ctx context.Context, text string) error {
	now := s.now()

	// 1. Per-utterance filler count.
	fillers := delivery.CountFillers(text)
	s.profile.SetFillerWords(fillers)

	// 2. Speaking rate against the previous turn. A non-positive gap
	// leaves the stored rate unchanged.
	if _, lastTs, ok := s.profile.LastTurn(); ok {
		if dt := now.Sub(lastTs).Seconds(); dt > 0 {
			wps := int(math.Round(float64(delivery.WordCount(text)) / dt))
			s.profile.SetWordsPerSecond(wps)
		}
	}

	// 3. Turn-taking memory, unconditionally.
	s.profile.CommitTurn(text, now)

	s.tracker.AddTranscript(text)
	s.metrics.UtterancesFinalized.Add(ctx, 1)

	// 4. Classify against an immutable profile snapshot.
	label, ok := s.classify(ctx, text, s.profile.Snapshot())
	if !ok {
		// The session left Active while classification was in flight;
		// the result is discarded.
		return nil
	}

	// 5. Commit the reaction and emit.
	s.profile.SetEmotion(label)
	return s.emit(ctx, FinalEvent{
		Type:             eventFinal,
		Transcript:       text,
		AnimationTrigger: label,
		Metrics: Metrics{
			WPM:          s.tracker.WordsPerMinute(),
			FillerWords:  s.tracker.FillerCount(),
			ClarityScore: s.tracker.ClarityScore(),
			WordCount:    s.tracker.WordCount(),
		},
		Timestamp:      epochSeconds(now),
		CurrentEmotion: label,
	})
}

// classify invokes the classifier adapter without blocking the drain
// path: if the session stops while the call is in flight, the call is
// abandoned to finish on its own schedule and ok is false.
func (s *Session) classify(ctx context.Context, text string, snap reaction.Context) (reaction.Label, bool) {
	start := time.Now()
	resCh := make(chan reaction.Label, 1)
	clsCtx := context.WithoutCancel(ctx)
	go func() { resCh <- s.classifier.Classify(clsCtx, text, snap) }()

	select {
	case label := <-resCh:
		s.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds())
		return label, true
	case <-s.stopped:
		return "", false
	}
}

// emit writes one outbound event; a write failure is a transport error
// and therefore fatal.
func (s *Session) emit(ctx context.Context, v any) error {
	if err := s.writeEvent(ctx, v); err != nil {
		s.metrics.RecordSessionError(ctx, "transport")
		return fmt.Errorf("session: emit event: %w", err)
	}
	return nil
}

func (s *Session) writeEvent(ctx context.Context, v any) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.transport.WriteEvent(wctx, v)
}

// readLoop pulls inbound frames, enforcing the idle timeout, and hands
// audio payloads to the pipeline. Pong replies are informational only
// and never trigger disconnection.
func (s *Session) readLoop(ctx context.Context) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.idleTimeout)
		f, err := s.transport.Read(readCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				// Session is already draining.
			case errors.Is(err, context.DeadlineExceeded):
				s.logger.Info("session idle timeout", "timeout", s.idleTimeout)
				s.stop(stopIdle, nil)
			case isPeerClosed(err):
				s.logger.Info("peer closed connection")
				s.stop(stopPeerClosed, nil)
			default:
				s.metrics.RecordSessionError(ctx, "transport")
				s.logger.Warn("transport read failed", "error", err)
				s.stop(stopTransport, err)
			}
			return
		}

		if f.Binary {
			select {
			case s.frames <- f.Data:
			case <-ctx.Done():
				return
			}
			continue
		}

		var msg controlMessage
		if err := json.Unmarshal(f.Data, &msg); err == nil && msg.Type == controlPong {
			s.logger.Debug("pong received")
		}
	}
}

// heartbeatLoop emits a liveness ping on a fixed cadence until the
// session drains.
func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.transport.WriteEvent(wctx, newPingEvent())
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					s.metrics.RecordSessionError(ctx, "transport")
					s.logger.Warn("heartbeat write failed", "error", err)
					s.stop(stopTransport, err)
				}
				return
			}
		}
	}
}

// isPeerClosed reports whether a read error represents an orderly
// disconnect rather than a transport failure.
func isPeerClosed(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
