package bus

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Subscribe registers handler for messages on pattern at exactly-once QoS.
//
// Patterns can include wildcards:
//   - + (single-level): "sensors/+/temp" matches any one sensor
//   - # (multi-level): "sensors/#" matches everything below sensors/
//
// Only the first handler for a pattern triggers a wire-level subscribe;
// further handlers share it. Re-adding the same handler is a no-op.
// If the bus is not listening the registration is kept and sent to the broker
// on the next (re)connection.
//
// Returns:
//   - error: ErrConfiguration for a malformed pattern or unusable handler,
//     ErrSubscribeFailed if the broker rejected the subscription
//
// Example:
//
//	h := bus.NewHandler(func(ctx context.Context, topic string, payload any) error {
//	    log.Printf("%s: %v", topic, payload)
//	    return nil
//	})
//	err := b.Subscribe(ctx, "sensors/+/temp", h)
func (b *Bus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	return b.SubscribeQoS(ctx, pattern, SubscribeQoS, handler)
}

// SubscribeQoS is Subscribe with an explicit wire QoS for a new pattern.
// The QoS of an already registered pattern is not changed.
func (b *Bus) SubscribeQoS(ctx context.Context, pattern string, qos transport.QoS, handler Handler) error {
	if !qos.Valid() {
		return fmt.Errorf("%w: invalid QoS %d", ErrConfiguration, qos)
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	needsWire, err := b.registry.Subscribe(pattern, handler)
	if err != nil {
		return err
	}
	b.getMetrics().setSubscriptions(b.registry.Len())

	logger := b.getLogger()
	if logger != nil {
		logger.Debug("bus subscription", "pattern", pattern, "handler", fmt.Sprintf("%T", handler))
	}

	if !needsWire {
		return nil
	}

	conn := b.listeningConn()
	if conn == nil {
		// Sent on the next replay.
		return nil
	}

	opCtx, cancel := b.opContext(ctx)
	defer cancel()

	if err := conn.Subscribe(opCtx, pattern, qos); err != nil {
		if isClosed(conn) {
			if logger != nil {
				logger.Warn("bus subscribe interrupted by disconnect, deferring to resubscription",
					"pattern", pattern,
					"error", err,
				)
			}
			return nil
		}

		b.registry.Unsubscribe(pattern, handler)
		b.getMetrics().setSubscriptions(b.registry.Len())
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, pattern, err)
	}

	if logger != nil {
		logger.Info("subscribed", "pattern", pattern, "qos", qos.String())
	}
	return nil
}

// Unsubscribe removes handler from pattern.
//
// With a nil handler the pattern is dropped regardless of how many handlers
// it has. The wire-level unsubscribe is sent only when the pattern is dropped.
// Unknown patterns are a no-op.
//
// Returns:
//   - error: wraps the transport error if the broker rejected the unsubscribe
//     (the pattern is already removed locally)
func (b *Bus) Unsubscribe(ctx context.Context, pattern string, handler Handler) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	removed := b.registry.Unsubscribe(pattern, handler)
	b.getMetrics().setSubscriptions(b.registry.Len())
	if !removed {
		return nil
	}

	logger := b.getLogger()
	conn := b.listeningConn()
	if conn == nil {
		if logger != nil {
			logger.Info("unsubscribed while disconnected", "pattern", pattern)
		}
		return nil
	}

	opCtx, cancel := b.opContext(ctx)
	defer cancel()

	if err := conn.Unsubscribe(opCtx, pattern); err != nil {
		return fmt.Errorf("bus: unsubscribe %s: %w", pattern, err)
	}

	if logger != nil {
		logger.Info("unsubscribed", "pattern", pattern)
	}
	return nil
}

// Topics returns the literal (non-wildcard) subscribed topics.
func (b *Bus) Topics() []string {
	return b.registry.Topics()
}

// Patterns returns every subscribed pattern.
func (b *Bus) Patterns() []string {
	return b.registry.AllPatterns()
}

// resubscribe replays every registered pattern on a fresh connection.
// Caller holds subMu. Failures are logged; the pattern stays registered.
func (b *Bus) resubscribe(ctx context.Context, conn transport.Conn) {
	logger := b.getLogger()

	for _, pattern := range b.registry.AllPatterns() {
		if logger != nil {
			logger.Debug("resubscribing", "pattern", pattern)
		}

		opCtx, cancel := b.opContext(ctx)
		err := conn.Subscribe(opCtx, pattern, ResubscribeQoS)
		cancel()

		if err != nil && logger != nil {
			logger.Error("resubscribe failed", "pattern", pattern, "error", err)
		}
	}
}

// isClosed reports whether conn has signalled disconnection.
func isClosed(conn transport.Conn) bool {
	select {
	case <-conn.Disconnected():
		return true
	default:
		return false
	}
}
