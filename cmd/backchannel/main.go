// Command backchannel is the main entry point for the backchannel
// real-time reaction server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/nvollmar/backchannel/internal/app"
	"github.com/nvollmar/backchannel/internal/config"
	"github.com/nvollmar/backchannel/internal/observe"
	"github.com/nvollmar/backchannel/pkg/provider/reaction"
	"github.com/nvollmar/backchannel/pkg/provider/reaction/anyllm"
	"github.com/nvollmar/backchannel/pkg/provider/reaction/openai"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "backchannel: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "backchannel: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("backchannel starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "backchannel",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Classifier registry ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinClassifiers(reg)

	var opts []app.Option
	if name := cfg.Classifier.Name; name != "" {
		backend, err := reg.CreateClassifier(cfg.Classifier)
		if err != nil {
			slog.Error("failed to create classifier backend", "name", name, "err", err)
			return 1
		}
		opts = append(opts, app.WithClassifierBackend(backend))
		slog.Info("classifier backend created", "name", name, "model", cfg.Classifier.Model)
	} else {
		slog.Warn("no classifier backend configured; every utterance takes the fallback reaction")
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RecognizerChanged || d.ClassifierChanged || d.SessionChanged || d.TokenChanged {
			slog.Warn("config changed in sections that require a restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Classifier wiring ─────────────────────────────────────────────────────────

// registerBuiltinClassifiers wires the classifier backends that ship
// with backchannel into reg.
func registerBuiltinClassifiers(reg *config.Registry) {
	reg.RegisterClassifier("openai", func(entry config.ClassifierConfig) (reaction.Classifier, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(entry.Timeout.Std()))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterClassifier("anyllm", func(entry config.ClassifierConfig) (reaction.Classifier, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Provider, entry.Model, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered classifier backend", "name", name)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
