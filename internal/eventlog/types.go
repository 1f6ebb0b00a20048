package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Direction says whether an event came from or went to the broker.
type Direction string

const (
	// DirectionIn marks a message received from the broker.
	DirectionIn Direction = "in"

	// DirectionOut marks a message this process published.
	DirectionOut Direction = "out"
)

// Status is the lifecycle state of a logged event.
type Status string

const (
	StatusReceived Status = "received"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusReplayed Status = "replayed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusSent, StatusFailed, StatusReplayed:
		return true
	default:
		return false
	}
}

// Event is one message crossing the bus.
type Event struct {
	ID        string        `json:"id"`
	Direction Direction     `json:"direction"`
	Topic     string        `json:"topic"`
	Payload   []byte        `json:"payload,omitempty"`
	QoS       transport.QoS `json:"qos"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter controls which events Retrieve returns.
type Filter struct {
	Since     time.Time // optional: only events created at or after Since
	Statuses  []Status  // optional: any of these statuses
	Direction Direction // optional
	Limit     int       // default 500, max 5000
}

// Backend stores bus events.
type Backend interface {
	Store(ctx context.Context, event *Event) error
	Update(ctx context.Context, id string, status Status) error
	Retrieve(ctx context.Context, filter Filter) ([]Event, error)
}

// Pruner is implemented by backends that can drop old events.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Publisher republishes raw payloads. *bus.Bus satisfies it.
type Publisher interface {
	TryPublish(ctx context.Context, topic string, payload []byte, qos transport.QoS) error
}

// Domain-specific errors for event log operations.
var (
	// ErrInvalidEvent is returned for events missing a topic or direction.
	ErrInvalidEvent = errors.New("eventlog: invalid event")

	// ErrInvalidStatus is returned for unknown statuses.
	ErrInvalidStatus = errors.New("eventlog: invalid status")
)
