package meross

import "errors"

var (
	// ErrNotInitialized is returned when an operation requires Init to
	// have completed.
	ErrNotInitialized = errors.New("meross: manager not initialized")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("meross: manager closed")

	// ErrNoCredentials is returned when neither credentials nor a
	// usable email/password pair were configured.
	ErrNoCredentials = errors.New("meross: no credentials configured")

	// ErrInvalidTransportMode is returned for an unrecognised
	// transport mode name.
	ErrInvalidTransportMode = errors.New("meross: invalid transport mode")
)
