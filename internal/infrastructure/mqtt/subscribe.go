package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

// Subscribe asks the broker to deliver messages matching pattern.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "sensors/+/temp" matches any sensor
//   - # (multi-level): "sensors/#" matches everything below sensors/
//
// Messages are delivered through NextMessage, not a callback.
//
// Returns:
//   - error: nil on success, ErrSubscribeFailed (wrapping ErrSubscribeRejected
//     if the broker refused the pattern) otherwise
func (c *Conn) Subscribe(ctx context.Context, pattern string, qos transport.QoS) error {
	if isClosed(c) {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, transport.ErrClosed)
	}

	token := c.client.Subscribe(pattern, byte(qos), nil)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[pattern]; found && code == subackFailure {
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, pattern, ErrSubscribeRejected)
		}
	}

	return nil
}

// Unsubscribe removes a subscription for pattern.
//
// Returns:
//   - error: nil on success, or wrapped ErrUnsubscribeFailed
func (c *Conn) Unsubscribe(ctx context.Context, pattern string) error {
	if isClosed(c) {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, transport.ErrClosed)
	}

	token := c.client.Unsubscribe(pattern)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}
