package apiclient

import (
	"errors"
	"fmt"
)

// Domain-specific errors for the vendor HTTP API.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrBadLogin is returned for wrong credentials. Do not retry.
	ErrBadLogin = errors.New("apiclient: wrong email or password")

	// ErrTokenExpired is returned when the API rejects the session token.
	// The caller may log in again.
	ErrTokenExpired = errors.New("apiclient: token expired or invalid")

	// ErrTooManyTokens is returned when the account token quota is hit.
	// Wait, or log out sessions elsewhere.
	ErrTooManyTokens = errors.New("apiclient: too many issued tokens")

	// ErrWrongRegion is returned when the account lives on a different
	// regional endpoint. The APIError carries the suggested domain.
	ErrWrongRegion = errors.New("apiclient: wrong region")

	// ErrNotLoggedIn is returned for authenticated calls made before a
	// successful Login.
	ErrNotLoggedIn = errors.New("apiclient: not logged in")
)

// Vendor apiStatus codes with dedicated handling.
const (
	codeSuccess       = 0
	codeBadLogin      = 1004
	codeTokenExpired  = 1019
	codeTokenInvalid  = 1022
	codeWrongRegion   = 1030
	codeTooManyTokens = 1301
)

// APIError is a non-success apiStatus from the vendor API.
//
// It unwraps to one of the sentinel errors above when the code has
// dedicated handling, so callers can use errors.Is while still reading
// the raw code.
type APIError struct {
	// Code is the raw apiStatus value.
	Code int

	// Info is the human-readable message from the response wrapper.
	Info string

	// Domain is the suggested regional endpoint, set only for
	// ErrWrongRegion responses.
	Domain string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("apiclient: api status %d: %s (try domain %s)", e.Code, e.Info, e.Domain)
	}
	return fmt.Sprintf("apiclient: api status %d: %s", e.Code, e.Info)
}

// Unwrap maps well-known codes onto their sentinels.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case codeBadLogin:
		return ErrBadLogin
	case codeTokenExpired, codeTokenInvalid:
		return ErrTokenExpired
	case codeWrongRegion:
		return ErrWrongRegion
	case codeTooManyTokens:
		return ErrTooManyTokens
	default:
		return nil
	}
}
