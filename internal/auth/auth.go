// Package auth carries the signed-in operator through a request and signs
// the session cookie that points at server-side session state.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "offboard"

// Claims are the session cookie claims. The session id travels in the
// standard jti claim; nothing else about the operator is exposed.
type Claims struct {
	jwt.RegisteredClaims
}

// SessionID returns the referenced server-side session.
func (c *Claims) SessionID() string { return c.ID }

// CookieCodec signs and verifies session cookies with HS256.
type CookieCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a CookieCodec.
type CodecOption func(*CookieCodec)

// WithIssuer overrides the iss claim.
func WithIssuer(iss string) CodecOption {
	return func(c *CookieCodec) {
		if iss = strings.TrimSpace(iss); iss != "" {
			c.issuer = iss
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *CookieCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCookieCodec returns a codec keyed by secret.
func NewCookieCodec(secret string, opts ...CodecOption) (*CookieCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	c := &CookieCodec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string { return uuid.NewString() }

// Issue signs a cookie value referencing sessionID that expires after ttl.
func (c *CookieCodec) Issue(sessionID string, ttl time.Duration) (string, time.Time, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", time.Time{}, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	now := c.now().UTC()
	expires := now.Add(ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        sessionID,
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies the signature and claims of a cookie value.
func (c *CookieCodec) Parse(value string) (*Claims, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(value, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(c.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
