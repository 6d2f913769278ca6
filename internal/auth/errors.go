package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is matched by every token parse failure.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUnknownPrincipal means the token was valid but its subject no longer exists.
	ErrUnknownPrincipal = errors.New("auth: unknown principal")
	// ErrAuthzDenied is the single authorization outcome surfaced to callers.
	ErrAuthzDenied = errors.New("auth: access denied")

	ErrUnauthenticated = fmt.Errorf("%w: authentication required", ErrAuthzDenied)
	ErrForbidden       = fmt.Errorf("%w: forbidden", ErrAuthzDenied)

	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	errMissingSecret      = errors.New("auth: signing secret is not configured")
	errShortSecret        = errors.New("auth: signing secret must be at least 32 bytes")
)

// TokenErrorKind classifies why a token was refused.
type TokenErrorKind string

const (
	TokenInvalid   TokenErrorKind = "invalid"
	TokenExpired   TokenErrorKind = "expired"
	TokenMalformed TokenErrorKind = "malformed"
)

// TokenError carries the parse failure kind. It matches ErrInvalidToken.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: %s token", e.Kind)
	}
	return fmt.Sprintf("auth: %s token: %v", e.Kind, e.Err)
}

func (e *TokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidToken}
	}
	return []error{ErrInvalidToken, e.Err}
}

// TokenErrorKindOf returns the kind of a token failure, or "" for other errors.
func TokenErrorKindOf(err error) TokenErrorKind {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func tokenErr(kind TokenErrorKind, err error) error {
	return &TokenError{Kind: kind, Err: err}
}
