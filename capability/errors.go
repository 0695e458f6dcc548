package capability

import "errors"

var (
	// ErrUnsupported is returned when an operation targets an ability
	// the device has not advertised.
	ErrUnsupported = errors.New("capability: ability not supported by device")

	// ErrInvalidArgument is returned when an operation argument falls
	// outside the range the device will accept.
	ErrInvalidArgument = errors.New("capability: invalid argument")

	// ErrUnknownChannel is returned when a channel index does not exist
	// on the target device.
	ErrUnknownChannel = errors.New("capability: unknown channel")

	// ErrUnknownSubdevice is returned when a hub operation targets a
	// subdevice identifier the hub has not enrolled.
	ErrUnknownSubdevice = errors.New("capability: unknown subdevice")

	// ErrNoState is returned by readers when no sample has been
	// received yet for the requested value.
	ErrNoState = errors.New("capability: no state received yet")
)
