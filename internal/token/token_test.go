package token

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, opts ...Option) *Issuer {
	t.Helper()
	i, err := NewIssuer("test-key", "test-secret", opts...)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return i
}

func TestNewIssuer_RequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewIssuer("", "secret"); err == nil {
		t.Error("NewIssuer accepted an empty api key")
	}
	if _, err := NewIssuer("key", ""); err == nil {
		t.Error("NewIssuer accepted an empty secret")
	}
}

func TestMintAndVerify(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	i := newTestIssuer(t, WithClock(func() time.Time { return now }))

	signed, err := i.Mint("alice", "standup")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := i.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
	if claims.Issuer != "test-key" {
		t.Errorf("issuer = %q, want test-key", claims.Issuer)
	}
	if claims.Name != "alice" {
		t.Errorf("name = %q, want identity as default", claims.Name)
	}

	grant := claims.Video
	if grant.Room != "standup" || !grant.RoomJoin || !grant.CanPublish || !grant.CanSubscribe || !grant.CanPublishData {
		t.Errorf("grant = %+v, want full room-join permissions", grant)
	}

	wantExp := now.Add(DefaultTTL)
	if !claims.ExpiresAt.Time.Equal(wantExp) {
		t.Errorf("expires at %v, want %v", claims.ExpiresAt.Time, wantExp)
	}
}

func TestMint_Options(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t)
	signed, err := i.Mint("bob", "retro", WithName("Bob the Builder"), WithMetadata(`{"team":"infra"}`))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	claims, err := i.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Name != "Bob the Builder" {
		t.Errorf("name = %q", claims.Name)
	}
	if claims.Metadata != `{"team":"infra"}` {
		t.Errorf("metadata = %q", claims.Metadata)
	}
}

func TestMint_RejectsEmptyArguments(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t)
	if _, err := i.Mint("", "room"); err == nil {
		t.Error("Mint accepted an empty identity")
	}
	if _, err := i.Mint("alice", ""); err == nil {
		t.Error("Mint accepted an empty room")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t)
	other, err := NewIssuer("test-key", "another-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	signed, err := other.Mint("alice", "standup")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := i.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	minter := newTestIssuer(t, WithClock(func() time.Time { return now }))
	signed, err := minter.Mint("alice", "standup")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	later := now.Add(DefaultTTL + time.Minute)
	verifier := newTestIssuer(t, WithClock(func() time.Time { return later }))
	if _, err := verifier.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify = %v, want ErrInvalidToken for expired token", err)
	}
}

func TestVerify_RejectsUnsignedToken(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Video: VideoGrant{Room: "standup", RoomJoin: true},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := i.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify = %v, want ErrInvalidToken for alg=none", err)
	}
}

func TestVerify_RequiresRoomJoinGrant(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := i.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify = %v, want ErrInvalidToken without grant", err)
	}
}

func TestHandler_MintsToken(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t)
	h := NewHandler(i, "wss://media.example.com", nil)

	req := httptest.NewRequest("GET", "/api/token?room=standup&identity=alice", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var details ConnectionDetails
	if err := json.Unmarshal(rec.Body.Bytes(), &details); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if details.ServerURL != "wss://media.example.com" {
		t.Errorf("server url = %q", details.ServerURL)
	}
	if details.RoomName != "standup" || details.ParticipantName != "alice" {
		t.Errorf("details = %+v", details)
	}

	claims, err := i.Verify(details.ParticipantToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "alice" || claims.Video.Room != "standup" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestHandler_RequiresParameters(t *testing.T) {
	t.Parallel()

	h := NewHandler(newTestIssuer(t), "wss://media.example.com", nil)

	for _, target := range []string{"/api/token", "/api/token?room=standup", "/api/token?identity=alice"} {
		req := httptest.NewRequest("GET", target, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != 400 {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestHandler_RejectsNonGET(t *testing.T) {
	t.Parallel()

	h := NewHandler(newTestIssuer(t), "wss://media.example.com", nil)
	req := httptest.NewRequest("POST", "/api/token?room=a&identity=b", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 405 {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
