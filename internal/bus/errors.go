package bus

import (
	"errors"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Domain-specific errors for bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfiguration is returned for invalid setup: malformed wildcard
	// patterns, nil or non-comparable handlers, invalid QoS.
	ErrConfiguration = transport.ErrConfiguration

	// ErrNotConnected is returned when publishing outside the listening state.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrPublishFailed is returned when the transport rejects a publish.
	ErrPublishFailed = errors.New("bus: publish failed")

	// ErrSubscribeFailed is returned when the transport rejects a subscribe.
	ErrSubscribeFailed = errors.New("bus: subscribe failed")

	// ErrDecode is logged when an inbound payload is not valid JSON.
	ErrDecode = errors.New("bus: payload decode failed")

	// ErrEncode is returned when an outbound payload cannot be serialised.
	ErrEncode = errors.New("bus: payload encode failed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bus: already started")

	// ErrStopped is returned when Start is called after Stop.
	ErrStopped = errors.New("bus: stopped")

	// ErrInvalidTopic is returned for an empty topic or pattern.
	ErrInvalidTopic = errors.New("bus: topic cannot be empty")
)
