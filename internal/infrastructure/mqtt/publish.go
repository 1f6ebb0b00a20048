package mqtt

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "sensors/room1/temp")
//   - payload: The message payload
//   - qos: Quality of Service level
//
// The call returns once the broker has acknowledged the message at the
// requested level (immediately for QoS 0).
//
// Returns:
//   - error: nil on success, ErrPublishFailed or transport.ErrClosed otherwise
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS) error {
	if isClosed(c) {
		return fmt.Errorf("%w: %w", ErrPublishFailed, transport.ErrClosed)
	}

	token := c.client.Publish(topic, byte(qos), false, payload)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

func isClosed(c *Conn) bool {
	select {
	case <-c.lost:
		return true
	default:
		return false
	}
}
