package matter

import "errors"

// Domain-specific errors for device-graph operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCannotConnect is returned when the device-graph server refuses the
	// websocket connection. The supervisor treats this as the retryable
	// "server not started yet" condition.
	ErrCannotConnect = errors.New("matter: cannot connect to device-graph server")

	// ErrConnectionClosed is returned when the websocket session ends.
	ErrConnectionClosed = errors.New("matter: connection closed")

	// ErrInvalidEnvelope is returned when an inbound frame is not valid JSON
	// or fits none of the known envelope shapes.
	ErrInvalidEnvelope = errors.New("matter: invalid envelope")
)
