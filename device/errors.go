package device

import "errors"

var (
	// ErrNotFound is returned when a lookup misses the registry.
	ErrNotFound = errors.New("device: not found")

	// ErrAlreadyRegistered is returned when enrolling a UUID the
	// registry already holds.
	ErrAlreadyRegistered = errors.New("device: already registered")

	// ErrNotHub is returned when a subdevice operation targets a
	// device without hub abilities.
	ErrNotHub = errors.New("device: not a hub")
)
