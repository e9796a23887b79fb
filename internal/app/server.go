package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvollmar/backchannel/internal/observe"
	"github.com/nvollmar/backchannel/internal/session"
	"github.com/nvollmar/backchannel/internal/token"
	"github.com/nvollmar/backchannel/pkg/audio"
)

const (
	readHeaderTimeout = 5 * time.Second
	drainTimeout      = 10 * time.Second
)

// Handler returns the server's HTTP handler tree.
//
// The session route is mounted outside the observability middleware:
// the websocket upgrade needs the raw ResponseWriter, and a connection
// that lives for minutes is not a request worth a latency histogram.
func (a *App) Handler() http.Handler {
	api := http.NewServeMux()
	a.health.Register(api)
	api.Handle("GET /metrics", promhttp.Handler())
	if a.issuer != nil {
		api.Handle("GET /api/token", token.NewHandler(a.issuer, a.cfg.Token.ServerURL, a.logger))
	}
	instrumented := observe.Middleware(a.metrics)(api)

	root := http.NewServeMux()
	root.HandleFunc("GET /ws/{identity}", a.handleSession)
	root.Handle("/", instrumented)
	return root
}

// handleSession upgrades the connection and runs the participant's
// session until it drains. The request context is the session context:
// it is derived from the server's base context, so cancelling Run's
// context drains every live session.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}

	codec := a.defaultCodec
	if raw := r.URL.Query().Get("codec"); raw != "" {
		c, err := audio.ParseCodec(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		codec = c
	}
	decoder, err := audio.NewDecoder(codec)
	if err != nil {
		a.logger.Error("decoder init failed", "codec", codec, "err", err)
		http.Error(w, "codec unavailable", http.StatusInternalServerError)
		return
	}

	if a.issuer != nil {
		if err := a.authorize(r, identity); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errIdentityMismatch) {
				status = http.StatusForbidden
			}
			http.Error(w, err.Error(), status)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		a.logger.Warn("websocket accept failed", "identity", identity, "err", err)
		return
	}

	sess, err := session.New(session.Config{
		Identity:          identity,
		Transport:         session.NewWebsocketTransport(conn),
		Recognizer:        a.recognizer,
		Classifier:        a.classifier,
		Registry:          a.profiles,
		Decoder:           decoder,
		IdleTimeout:       a.cfg.Session.IdleTimeout.Std(),
		HeartbeatInterval: a.cfg.Session.HeartbeatInterval.Std(),
		Metrics:           a.metrics,
		Logger:            a.logger,
	})
	if err != nil {
		a.logger.Error("session setup failed", "identity", identity, "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	if err := sess.Run(r.Context()); err != nil {
		a.logger.Warn("session ended with error", "identity", identity, "err", err)
	}
}

var errIdentityMismatch = errors.New("app: token identity mismatch")

// authorize checks the connection token against the path identity.
func (a *App) authorize(r *http.Request, identity string) error {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return errors.New("app: missing token")
	}
	claims, err := a.issuer.Verify(raw)
	if err != nil {
		return fmt.Errorf("app: invalid token: %w", err)
	}
	if claims.Subject != identity {
		return errIdentityMismatch
	}
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts the server down
// gracefully. In-flight sessions observe the cancellation through the
// server's base context and drain before Shutdown returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("app: drain server: %w", err)
	}
	return nil
}
