// Package transport defines the wire-level publish/subscribe contract the bus
// is built on.
//
// The bus never speaks a wire protocol itself. It dials a Conn through a
// Dialer, issues subscribe/unsubscribe/publish calls on it, pulls inbound
// messages with NextMessage and blocks on Disconnected to learn when the
// connection is gone. Framing, acknowledgement and keep-alive belong to the
// client library behind the Conn (paho for MQTT, nats.go for NATS).
//
// # Topic grammar
//
// Topics are '/' separated segments. Subscriptions may use two wildcards:
//   - + matches exactly one segment
//   - # matches one or more trailing segments and is only valid last
//
// Adapters for brokers with a different grammar translate at their edge.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// QoS is the delivery guarantee requested for a publish or subscribe call.
type QoS byte

// QoS levels, mapped directly onto MQTT QoS values.
const (
	// AtMostOnce delivers zero or one time (fire and forget).
	AtMostOnce QoS = 0

	// AtLeastOnce delivers one or more times.
	AtLeastOnce QoS = 1

	// ExactlyOnce delivers exactly one time.
	ExactlyOnce QoS = 2
)

// Valid reports whether q is one of the three defined levels.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return fmt.Sprintf("qos(%d)", byte(q))
	}
}

// Message is a single inbound delivery.
type Message struct {
	// Topic is the concrete topic the message was published on.
	Topic string

	// Payload is the raw message body.
	Payload []byte

	// QoS is the level the message was delivered with.
	QoS QoS
}

// Dialer opens connections to a broker.
//
// Each call to Dial yields a fresh Conn. Dialers must not reconnect on their
// own: reconnection is owned by the caller.
type Dialer interface {
	// Dial establishes a connection. A failure is wrapped with ErrConnectionFailed.
	Dial(ctx context.Context) (Conn, error)

	// Address returns the broker address for logging (credentials stripped).
	Address() string
}

// Conn is one established broker connection.
//
// All methods are safe for concurrent use.
type Conn interface {
	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte, qos QoS) error

	// Subscribe asks the broker to deliver messages matching pattern.
	Subscribe(ctx context.Context, pattern string, qos QoS) error

	// Unsubscribe cancels a previous Subscribe for pattern.
	Unsubscribe(ctx context.Context, pattern string) error

	// NextMessage blocks until a message arrives. It returns ErrEndOfStream once
	// the connection is gone and ctx.Err() when ctx is cancelled first.
	NextMessage(ctx context.Context) (Message, error)

	// Disconnected is closed when the connection is lost or Disconnect is called.
	Disconnected() <-chan struct{}

	// Disconnect closes the connection gracefully. Safe to call more than once.
	Disconnect()
}

// Sentinel errors shared by all transports.
var (
	// ErrConfiguration reports invalid setup detected at configure time
	// (missing TLS material, malformed wildcard, unsupported scheme).
	ErrConfiguration = errors.New("transport: invalid configuration")

	// ErrConnectionFailed reports a failed connection attempt.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrEndOfStream reports that no more messages will arrive on a Conn.
	ErrEndOfStream = errors.New("transport: end of stream")

	// ErrClosed reports an operation on a Conn that has been disconnected.
	ErrClosed = errors.New("transport: connection closed")

	// ErrTimeout reports a broker operation that did not complete in time.
	ErrTimeout = errors.New("transport: operation timed out")
)
