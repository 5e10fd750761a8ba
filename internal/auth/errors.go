package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session's credential is expired
	// and cannot be refreshed. The session has been removed.
	ErrSessionExpired = errors.New("session expired")

	// ErrMissingCode is returned when the callback carries no authorization code.
	ErrMissingCode = errors.New("authorization code missing from callback")
)

// Login failure reasons, surfaced to the frontend as ?error=<reason>.
const (
	ReasonInvalidState = "invalid_state"
	ReasonMissingCode  = "missing_code"
	ReasonAuthFailed   = "auth_failed"
)

// LoginError reports why a callback could not be turned into a session.
type LoginError struct {
	// Reason is a short machine-readable code. It is the provider's own
	// error value when the user declined consent.
	Reason string
	Err    error
}

func (e *LoginError) Error() string {
	if e.Err == nil {
		return "login failed: " + e.Reason
	}
	return fmt.Sprintf("login failed: %s: %v", e.Reason, e.Err)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}
