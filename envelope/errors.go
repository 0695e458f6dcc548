package envelope

import "errors"

// Domain-specific errors for envelope handling.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidSignature is returned when an inbound header's signature
	// does not match the recomputed value. Messages failing verification
	// must be dropped before dispatch.
	ErrInvalidSignature = errors.New("envelope: invalid signature")

	// ErrMalformed is returned when an inbound message cannot be decoded
	// as a header/payload envelope.
	ErrMalformed = errors.New("envelope: malformed message")
)
