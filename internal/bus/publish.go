package bus

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Maximum payload size for outbound messages (1MB).
const maxPayloadSize = 1 << 20

// Publish serialises payload to JSON and sends it to topic.
//
// Publish is best-effort: it never returns an error. When the bus is not
// listening the message is logged and discarded (there is no queue); transport
// failures are logged. Use TryPublish when the outcome matters.
//
// Parameters:
//   - payload: any JSON-representable value (see EncodePayload)
//   - topic: concrete topic to publish to (no wildcards)
//   - qos: delivery level
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Example:
//
//	b.Publish(ctx, map[string]any{"v": 21.5}, "sensors/room1/temp", bus.AtLeastOnce)
func (b *Bus) Publish(ctx context.Context, payload any, topic string, qos transport.QoS) {
	data, err := EncodePayload(payload)
	if err != nil {
		b.getMetrics().published(publishResultEncodeFailed)
		if logger := b.getLogger(); logger != nil {
			logger.Error("failed to encode event", "topic", topic, "error", err)
		}
		b.notifyPublished(topic, nil, qos, err)
		return
	}

	err = b.publish(ctx, topic, data, qos)
	b.notifyPublished(topic, data, qos, err)
}

// PublishAtMostOnce publishes at QoS 0.
func (b *Bus) PublishAtMostOnce(ctx context.Context, payload any, topic string) {
	b.Publish(ctx, payload, topic, transport.AtMostOnce)
}

// PublishAtLeastOnce publishes at QoS 1.
func (b *Bus) PublishAtLeastOnce(ctx context.Context, payload any, topic string) {
	b.Publish(ctx, payload, topic, transport.AtLeastOnce)
}

// PublishExactlyOnce publishes at QoS 2.
func (b *Bus) PublishExactlyOnce(ctx context.Context, payload any, topic string) {
	b.Publish(ctx, payload, topic, transport.ExactlyOnce)
}

// TryPublish sends an already encoded payload and reports the outcome.
//
// Unlike Publish, observers are not notified; callers that replay recorded
// traffic use it to avoid recording the same event twice.
//
// Returns:
//   - error: ErrInvalidTopic, ErrConfiguration (bad QoS or oversized payload),
//     ErrNotConnected, or wraps ErrPublishFailed
func (b *Bus) TryPublish(ctx context.Context, topic string, payload []byte, qos transport.QoS) error {
	return b.publish(ctx, topic, payload, qos)
}

func (b *Bus) publish(ctx context.Context, topic string, payload []byte, qos transport.QoS) error {
	logger := b.getLogger()

	if err := checkPublish(topic, payload, qos); err != nil {
		b.getMetrics().published(publishResultFailed)
		if logger != nil {
			logger.Error("rejected event", "topic", topic, "error", err)
		}
		return err
	}

	conn := b.listeningConn()
	if conn == nil {
		b.getMetrics().published(publishResultNotConnected)
		if logger != nil {
			logger.Error("failed to send event, bus not connected",
				"topic", topic,
				"state", b.State().String(),
			)
		}
		return ErrNotConnected
	}

	opCtx, cancel := b.opContext(ctx)
	defer cancel()

	if err := conn.Publish(opCtx, topic, payload, qos); err != nil {
		b.getMetrics().published(publishResultFailed)
		if logger != nil {
			logger.Error("failed to send event", "topic", topic, "error", err)
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	b.getMetrics().published(publishResultSent)
	if logger != nil {
		logger.Debug("event sent", "topic", topic, "qos", qos.String(), "bytes", len(payload))
	}
	return nil
}

func checkPublish(topic string, payload []byte, qos transport.QoS) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if IsWildcard(topic) {
		return fmt.Errorf("%w: cannot publish to wildcard topic %q", ErrConfiguration, topic)
	}
	if !qos.Valid() {
		return fmt.Errorf("%w: invalid QoS %d", ErrConfiguration, qos)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrConfiguration, len(payload), maxPayloadSize)
	}
	return nil
}

func (b *Bus) notifyPublished(topic string, payload []byte, qos transport.QoS, err error) {
	for _, o := range b.getObservers() {
		o.MessagePublished(topic, payload, qos, err)
	}
}
