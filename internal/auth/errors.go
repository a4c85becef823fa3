package auth

import "errors"

var (
	// ErrInvalidToken indicates the session cookie failed validation.
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrMissingSecret = errors.New("auth: secret is not configured")
)
