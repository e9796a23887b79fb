package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nvollmar/backchannel/internal/app"
	"github.com/nvollmar/backchannel/internal/config"
	"github.com/nvollmar/backchannel/internal/token"
	"github.com/nvollmar/backchannel/pkg/audio"
	"github.com/nvollmar/backchannel/pkg/provider/asr"
	asrmock "github.com/nvollmar/backchannel/pkg/provider/asr/mock"
	reactionmock "github.com/nvollmar/backchannel/pkg/provider/reaction/mock"
)

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return a
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket.Dial(%q): %v", url, err)
	}
	return conn
}

// readEvent reads text frames until one of the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for %q event: %v", wantType, err)
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event %q: %v", data, err)
		}
		if ev["type"] == wantType {
			return ev
		}
	}
}

func TestApp_EndToEndSession(t *testing.T) {
	t.Parallel()

	recognizer := asrmock.NewProvider(
		asrmock.Outcome{Result: asr.Result{Kind: asr.KindPartial, Text: "hello"}},
		asrmock.Outcome{Result: asr.Result{Kind: asr.KindFinal, Text: "hello there everyone"}},
	)
	backend := &reactionmock.Classifier{Response: "nodding"}

	a := newTestApp(t, nil,
		app.WithRecognizer(recognizer),
		app.WithClassifierBackend(backend),
	)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	conn := dial(t, wsURL(srv, "/ws/alice"))
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	frame := audio.Int16sToBytes(make([]int16, audio.SampleRate/100))
	ctx := context.Background()
	for range 2 {
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	partial := readEvent(t, conn, "partial")
	if got := partial["transcript"]; got != "hello" {
		t.Errorf("partial transcript = %v, want hello", got)
	}

	final := readEvent(t, conn, "final")
	if got := final["transcript"]; got != "hello there everyone" {
		t.Errorf("final transcript = %v", got)
	}
	if got := final["animation_trigger"]; got != "nodding" {
		t.Errorf("animation_trigger = %v, want nodding", got)
	}
	metrics, ok := final["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("final event missing metrics: %v", final)
	}
	if got := metrics["word_count"]; got != float64(3) {
		t.Errorf("word_count = %v, want 3", got)
	}

	p := a.Profiles().Profile(ctx, "alice")
	if got := string(p.Emotion()); got != "nodding" {
		t.Errorf("profile emotion = %q, want nodding", got)
	}
}

func TestApp_BadCodecRejected(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil,
		app.WithRecognizer(asrmock.NewProvider()),
		app.WithClassifierBackend(&reactionmock.Classifier{}),
	)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv, "/ws/alice?codec=mp3"), nil)
	if err == nil {
		t.Fatal("Dial succeeded with unknown codec")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %v, want 400", resp)
	}
}

func TestApp_HealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()

	recognizer := asrmock.NewProvider()
	a := newTestApp(t, nil,
		app.WithRecognizer(recognizer),
		app.WithClassifierBackend(&reactionmock.Classifier{}),
	)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := get("/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}
	if resp := get("/readyz"); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d, want 200", resp.StatusCode)
	}
	if resp := get("/metrics"); resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d, want 200", resp.StatusCode)
	}

	recognizer.SetReady(false)
	if resp := get("/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz with unloaded model = %d, want 503", resp.StatusCode)
	}
}

func tokenConfig() *config.Config {
	cfg := config.Default()
	cfg.Token.APIKey = "test-key"
	cfg.Token.APISecret = "test-secret"
	cfg.Token.ServerURL = "wss://example.test"
	return cfg
}

func TestApp_TokenEndpoint(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, tokenConfig(),
		app.WithRecognizer(asrmock.NewProvider()),
		app.WithClassifierBackend(&reactionmock.Classifier{}),
	)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/token?room=demo&identity=alice")
	if err != nil {
		t.Fatalf("GET /api/token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var details token.ConnectionDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if details.ServerURL != "wss://example.test" {
		t.Errorf("serverUrl = %q", details.ServerURL)
	}
	if details.RoomName != "demo" || details.ParticipantName != "alice" {
		t.Errorf("details = %+v", details)
	}

	issuer, err := token.NewIssuer("test-key", "test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	claims, err := issuer.Verify(details.ParticipantToken)
	if err != nil {
		t.Fatalf("Verify minted token: %v", err)
	}
	if claims.Subject != "alice" || claims.Video.Room != "demo" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestApp_SessionRequiresValidToken(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, tokenConfig(),
		app.WithRecognizer(asrmock.NewProvider()),
		app.WithClassifierBackend(&reactionmock.Classifier{}),
	)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, resp, err := websocket.Dial(ctx, wsURL(srv, "/ws/alice"), nil); err == nil {
		t.Fatal("Dial without token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %v, want 401", resp)
	}

	issuer, err := token.NewIssuer("test-key", "test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	wrong, err := issuer.Mint("mallory", "demo")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, resp, err := websocket.Dial(ctx, wsURL(srv, "/ws/alice?token="+wrong), nil); err == nil {
		t.Fatal("Dial with mismatched token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("mismatched token: status = %v, want 403", resp)
	}

	good, err := issuer.Mint("alice", "demo")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	conn := dial(t, wsURL(srv, "/ws/alice?token="+good))
	conn.Close(websocket.StatusNormalClosure, "done")
}

func TestApp_RunDrainsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	a := newTestApp(t, cfg,
		app.WithRecognizer(asrmock.NewProvider()),
		app.WithClassifierBackend(&reactionmock.Classifier{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	// Give the listener a moment, then cancel and expect a clean return.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_RejectsUnknownDefaultCodec(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Session.Codec = "mp3"
	_, err := app.New(context.Background(), cfg,
		app.WithRecognizer(asrmock.NewProvider()),
		app.WithClassifierBackend(&reactionmock.Classifier{}),
	)
	if err == nil {
		t.Fatal("New accepted unknown codec")
	}
}

func TestApp_NoModelRefusesSessions(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Recognizer.ModelPath = ""

	a := newTestApp(t, cfg, app.WithClassifierBackend(&reactionmock.Classifier{}))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	conn := dial(t, wsURL(srv, "/ws/alice"))
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ev := readEvent(t, conn, "error")
	if msg, _ := ev["message"].(string); !strings.Contains(msg, "unavailable") {
		t.Errorf("error message = %q, want model-unavailable report", msg)
	}
}

func TestApp_SessionReplacedOnReconnect(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil,
		app.WithRecognizer(asrmock.NewProvider()),
		app.WithClassifierBackend(&reactionmock.Classifier{}),
	)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	first := dial(t, wsURL(srv, "/ws/alice"))
	second := dial(t, wsURL(srv, "/ws/alice"))
	defer second.Close(websocket.StatusNormalClosure, "done")

	// The first connection is closed by the server when the second one
	// attaches; a read on it eventually fails.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := first.Read(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				t.Fatal("first connection was not closed on reconnect")
			}
			break
		}
	}

	if got := a.Profiles().ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
}
