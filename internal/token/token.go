// Package token mints and verifies room-join access tokens in the
// LiveKit video-grant format, signed HS256 with the API secret. Clients
// exchange identity and room name for a short-lived token they present
// to the media server.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of a minted token.
const DefaultTTL = 5 * time.Minute

// ErrInvalidToken is returned by Verify for any token that fails
// signature, expiry, or grant checks.
var ErrInvalidToken = errors.New("token: invalid token")

// VideoGrant is the room permission block embedded in the token.
// Field names follow the LiveKit wire format.
type VideoGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanPublishData bool   `json:"canPublishData"`
	CanSubscribe   bool   `json:"canSubscribe"`
}

// Claims is the full token payload: registered JWT claims plus the
// participant display name, opaque metadata, and the video grant.
type Claims struct {
	jwt.RegisteredClaims
	Name     string     `json:"name,omitempty"`
	Metadata string     `json:"metadata,omitempty"`
	Video    VideoGrant `json:"video"`
}

// Issuer mints and verifies tokens for one API key pair.
type Issuer struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an [Issuer].
type Option func(*Issuer)

// WithTTL overrides the default token lifetime.
func WithTTL(d time.Duration) Option {
	return func(i *Issuer) { i.ttl = d }
}

// WithClock injects a clock for tests. The default is [time.Now].
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an Issuer for the given API key pair.
func NewIssuer(apiKey, apiSecret string, opts ...Option) (*Issuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("token: api key and secret must not be empty")
	}
	i := &Issuer{
		apiKey: apiKey,
		secret: []byte(apiSecret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// MintOption customises a single minted token.
type MintOption func(*Claims)

// WithName sets the participant display name. It defaults to the
// identity.
func WithName(name string) MintOption {
	return func(c *Claims) { c.Name = name }
}

// WithMetadata attaches opaque participant metadata.
func WithMetadata(md string) MintOption {
	return func(c *Claims) { c.Metadata = md }
}

// Mint returns a signed room-join token for identity in room. The
// grant allows publishing and subscribing.
func (i *Issuer) Mint(identity, room string, opts ...MintOption) (string, error) {
	if identity == "" {
		return "", errors.New("token: identity must not be empty")
	}
	if room == "" {
		return "", errors.New("token: room must not be empty")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: identity,
		Video: VideoGrant{
			Room:           room,
			RoomJoin:       true,
			CanPublish:     true,
			CanPublishData: true,
			CanSubscribe:   true,
		},
	}
	for _, o := range opts {
		o(&claims)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token minted by this Issuer and
// returns its claims. A token without a room-join grant is rejected.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.Video.RoomJoin || claims.Video.Room == "" {
		return nil, fmt.Errorf("%w: missing room-join grant", ErrInvalidToken)
	}
	return claims, nil
}
