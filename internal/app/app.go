// Package app wires all backchannel subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves connections until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRecognizer,
// WithClassifierBackend, WithProfileStore). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nvollmar/backchannel/internal/config"
	"github.com/nvollmar/backchannel/internal/health"
	"github.com/nvollmar/backchannel/internal/observe"
	"github.com/nvollmar/backchannel/internal/profile"
	profilepg "github.com/nvollmar/backchannel/internal/profile/postgres"
	"github.com/nvollmar/backchannel/internal/token"
	"github.com/nvollmar/backchannel/internal/workpool"
	"github.com/nvollmar/backchannel/pkg/audio"
	"github.com/nvollmar/backchannel/pkg/provider/asr"
	"github.com/nvollmar/backchannel/pkg/provider/asr/whisper"
	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

// shutdownSaveTimeout bounds the final profile flush.
const shutdownSaveTimeout = 10 * time.Second

// App owns all subsystem lifetimes for the backchannel server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics    *observe.Metrics
	pool       *workpool.Pool
	recognizer asr.Provider
	classifier *reaction.Adapter
	backend    reaction.Classifier
	store      profile.Store
	profiles   *profile.Registry
	issuer     *token.Issuer
	health     *health.Handler

	defaultCodec audio.Codec

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecognizer injects a recognition provider instead of loading the
// whisper model from config.
func WithRecognizer(p asr.Provider) Option {
	return func(a *App) { a.recognizer = p }
}

// WithClassifierBackend injects a classifier backend instead of
// creating one from config.
func WithClassifierBackend(c reaction.Classifier) Option {
	return func(a *App) { a.backend = c }
}

// WithProfileStore injects a profile store instead of connecting to
// PostgreSQL from config.
func WithProfileStore(s profile.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics injects a Metrics instance bound to a test meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: the inference
// worker pool, the recognition provider, the classifier adapter, the
// profile registry with optional persistence, and the token issuer.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	codec, err := audio.ParseCodec(cfg.Session.Codec)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.defaultCodec = codec

	a.initWorkpool()

	if err := a.initRecognizer(); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}
	a.initClassifier()
	if err := a.initProfiles(ctx); err != nil {
		return nil, fmt.Errorf("app: init profiles: %w", err)
	}
	if err := a.initToken(); err != nil {
		return nil, fmt.Errorf("app: init token: %w", err)
	}

	a.health = health.New(
		health.Recognizer(a.recognizer),
		health.ProfileStore(a.store),
	)

	return a, nil
}

func (a *App) initWorkpool() {
	a.pool = workpool.New(a.cfg.Recognizer.Workers)
	a.closers = append(a.closers, a.pool.Shutdown)
}

// initRecognizer loads the whisper model unless a provider was
// injected. With no model path configured the server still starts,
// refusing sessions until a model is available.
func (a *App) initRecognizer() error {
	if a.recognizer != nil {
		return nil
	}

	path := a.cfg.Recognizer.ModelPath
	if path == "" {
		a.logger.Warn("no recognition model configured; sessions will be refused")
		a.recognizer = unavailableRecognizer{}
		return nil
	}

	p, err := whisper.New(path,
		whisper.WithLanguage(a.cfg.Recognizer.Language),
		whisper.WithRMSThreshold(a.cfg.Recognizer.RMSThreshold),
		whisper.WithSilenceThreshold(a.cfg.Recognizer.Silence.Std()),
		whisper.WithMaxBufferDuration(a.cfg.Recognizer.MaxBuffer.Std()),
		whisper.WithPartialInterval(a.cfg.Recognizer.PartialInterval.Std()),
		whisper.WithPool(a.pool),
	)
	if err != nil {
		return err
	}
	a.recognizer = p
	a.closers = append(a.closers, func(context.Context) error { return p.Close() })
	return nil
}

// initClassifier wraps the injected backend in the degradation adapter.
// An absent backend means every utterance takes the fallback reaction,
// which keeps sessions functional. Backend construction lives in the
// caller (see cmd/backchannel), driven by the config registry.
func (a *App) initClassifier() {
	if a.backend == nil {
		a.backend = unavailableClassifier{}
	}

	a.classifier = reaction.NewAdapter(a.backend,
		reaction.WithTimeout(a.cfg.Classifier.Timeout.Std()),
		reaction.WithFallbackHook(func() {
			a.metrics.ClassifierFallbacks.Add(context.Background(), 1)
		}),
	)
}

// initProfiles connects the PostgreSQL store when configured and builds
// the process-wide profile registry.
func (a *App) initProfiles(ctx context.Context) error {
	if a.store == nil && a.cfg.Profiles.PostgresDSN != "" {
		store, err := profilepg.Open(ctx, a.cfg.Profiles.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		a.logger.Info("profile persistence enabled")
	}

	regOpts := []profile.RegistryOption{profile.WithLogger(a.logger)}
	if a.store != nil {
		regOpts = append(regOpts, profile.WithStore(a.store))
	}
	a.profiles = profile.NewRegistry(regOpts...)

	// Flush profiles before the store closes; closers run in reverse.
	a.closers = append(a.closers, func(ctx context.Context) error {
		saveCtx, cancel := context.WithTimeout(ctx, shutdownSaveTimeout)
		defer cancel()
		return a.profiles.SaveAll(saveCtx)
	})
	return nil
}

func (a *App) initToken() error {
	if !a.cfg.Token.Enabled() {
		return nil
	}
	issuer, err := token.NewIssuer(a.cfg.Token.APIKey, a.cfg.Token.APISecret,
		token.WithTTL(a.cfg.Token.TTL.Std()))
	if err != nil {
		return err
	}
	a.issuer = issuer
	return nil
}

// Profiles exposes the registry, mainly for tests and diagnostics.
func (a *App) Profiles() *profile.Registry { return a.profiles }

// Shutdown tears down all subsystems in reverse-init order. It respects
// the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// unavailableRecognizer refuses every session; used when no model path
// is configured.
type unavailableRecognizer struct{}

func (unavailableRecognizer) Ready() bool { return false }

func (unavailableRecognizer) NewSession(context.Context, asr.SessionConfig) (asr.Session, error) {
	return nil, asr.ErrModelUnavailable
}

// unavailableClassifier fails every call so the adapter degrades to the
// fallback label; used when no backend is configured.
type unavailableClassifier struct{}

func (unavailableClassifier) Classify(context.Context, string, reaction.Context) (string, error) {
	return "", fmt.Errorf("app: no classifier backend configured")
}
