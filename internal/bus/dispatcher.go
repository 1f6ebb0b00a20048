package bus

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// dispatch pulls messages from conn until the stream ends or ctx is cancelled.
//
// Each matching handler runs on its own goroutine with a private copy of the
// decoded payload. The loop never waits for handlers and never sees their
// errors.
func (b *Bus) dispatch(ctx context.Context, conn transport.Conn) {
	for {
		msg, err := conn.NextMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger := b.getLogger()
			if logger == nil {
				return
			}
			if errors.Is(err, transport.ErrEndOfStream) {
				logger.Info("listening loop ended")
			} else {
				logger.Error("bus receive failed", "error", err)
			}
			return
		}

		b.deliver(ctx, msg)
	}
}

// deliver fans one message out to every matching handler.
func (b *Bus) deliver(ctx context.Context, msg transport.Message) {
	b.getMetrics().messageReceived()
	for _, o := range b.getObservers() {
		o.MessageReceived(msg.Topic, msg.Payload)
	}

	logger := b.getLogger()

	payload, err := decodePayload(msg.Payload)
	if err != nil {
		b.getMetrics().decodeFailed()
		if logger != nil {
			logger.Error("dropping message",
				"topic", msg.Topic,
				"error", err,
			)
		}
		return
	}

	handlers := b.registry.Match(msg.Topic)
	if len(handlers) == 0 {
		if logger != nil {
			logger.Debug("no subscription for topic", "topic", msg.Topic)
		}
		return
	}

	if logger != nil {
		logger.Debug("dispatching message", "topic", msg.Topic, "handlers", len(handlers))
	}

	// Handlers outlive the connection; a disconnect must not cancel them.
	handlerCtx := context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.handlers.Go(handlerCtx, h, msg.Topic, clonePayload(payload))
	}
}
