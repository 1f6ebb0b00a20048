package bus

import (
	"context"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// supervise is the reconnect-forever loop.
//
//	disconnected -> connecting -> connected -> listening -> disconnected ...
//
// A failed attempt waits ReconnectDelay and tries again; a lost connection is
// retried immediately. Only cancellation of ctx ends the loop.
func (b *Bus) supervise(ctx context.Context) {
	defer close(b.runDone)
	defer b.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := b.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			b.setState(StateDisconnected)
			if logger := b.getLogger(); logger != nil {
				logger.Error("bus connection failed",
					"address", b.dialer.Address(),
					"error", err,
					"retry_in", b.cfg.ReconnectDelay,
				)
			}

			select {
			case <-ctx.Done():
				return
			case <-b.clock.After(b.cfg.ReconnectDelay):
			}
			continue
		}

		b.serve(ctx, conn)
	}
}

// connect performs one connection attempt.
func (b *Bus) connect(ctx context.Context) (transport.Conn, error) {
	b.setState(StateConnecting)
	b.getMetrics().connectAttempt()

	if logger := b.getLogger(); logger != nil {
		logger.Info("trying bus connection", "address", b.dialer.Address())
	}

	conn, err := b.dialer.Dial(ctx)
	if err != nil {
		b.getMetrics().connectFailed()
		return nil, err
	}
	return conn, nil
}

// serve runs one connection from handshake to disconnect.
//
// It replays subscriptions, starts the dispatcher and then blocks on the
// connection's disconnect signal. The dispatcher is cancelled and drained
// before serve returns.
func (b *Bus) serve(ctx context.Context, conn transport.Conn) {
	logger := b.getLogger()

	// Replay and the switch to listening happen under subMu so a concurrent
	// Subscribe either lands in the replay or sees the listening state.
	b.subMu.Lock()
	b.setConn(conn, StateConnected)
	if logger != nil {
		logger.Info("bus connected", "address", b.dialer.Address())
	}
	b.resubscribe(ctx, conn)

	listenCtx, cancel := context.WithCancel(ctx)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		b.dispatch(listenCtx, conn)
	}()

	b.setState(StateListening)
	b.subMu.Unlock()

	b.hookMu.RLock()
	onConnect := b.onConnect
	b.hookMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	select {
	case <-conn.Disconnected():
		if logger != nil {
			logger.Warn("bus connection lost", "address", b.dialer.Address())
		}
	case <-dispatcherDone:
	case <-ctx.Done():
	}

	cancel()
	<-dispatcherDone

	b.setConn(nil, StateDisconnected)
	conn.Disconnect()

	b.hookMu.RLock()
	onDisconnect := b.onDisconnect
	b.hookMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect()
	}
}
