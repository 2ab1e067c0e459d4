package auth

import "errors"

var (
	// ErrEmptyToken is returned when no session token is present.
	ErrEmptyToken = errors.New("auth: empty token")
	// ErrEmptySecret is returned when the signing secret is empty.
	ErrEmptySecret = errors.New("auth: empty secret")
	// ErrInvalidToken is returned when a session fails validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSubject is returned when a session carries no username.
	ErrMissingSubject = errors.New("auth: missing subject")
)
