// Package session keeps server-side operator sessions. The browser only
// holds a signed reference to a session; the delegated Graph token never
// leaves the server.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"offboard.io/internal/auth"
)

var (
	ErrNotFound     = errors.New("session: not found")
	ErrInvalidInput = errors.New("session: invalid input")
)

// Session is one browser sign-in. State and Verifier hold the OAuth state
// and PKCE code verifier issued with the authorize redirect until the
// callback consumes them.
type Session struct {
	ID          string
	State       string
	Verifier    string
	Operator    auth.Operator
	AccessToken string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// SignedIn reports whether the sign-in flow completed.
func (s Session) SignedIn() bool {
	return s.AccessToken != "" && strings.TrimSpace(s.Operator.ID) != ""
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists sessions. Get returns ErrNotFound for unknown or expired ids.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

func validate(s Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrInvalidInput
	}
	if s.ExpiresAt.IsZero() {
		return ErrInvalidInput
	}
	return nil
}
