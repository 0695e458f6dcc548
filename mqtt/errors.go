package mqtt

import "errors"

// Domain-specific errors for the MQTT transport.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when a command is issued while the
	// transport is not connected and subscribed.
	ErrNotConnected = errors.New("mqtt: transport not connected")

	// ErrConnectionFailed is returned when the initial connection or
	// subscription handshake fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrCommandTimeout is returned when no matching ACK arrives before
	// the request deadline. The pending entry is removed on return.
	ErrCommandTimeout = errors.New("mqtt: command timed out waiting for ack")

	// ErrClosed is returned to pending waiters when the transport is
	// closed underneath them.
	ErrClosed = errors.New("mqtt: transport closed")

	// ErrDuplicateMessageID is returned when a correlation id is already
	// pending. Message ids are random MD5s, so this indicates a caller
	// bug rather than a wire condition.
	ErrDuplicateMessageID = errors.New("mqtt: duplicate pending message id")
)
