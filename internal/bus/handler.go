package bus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handler receives messages for a subscription.
//
// HandleMessage runs on its own goroutine; the dispatcher never waits for it.
// payload is the decoded JSON body and is private to this invocation, so the
// handler may mutate it freely.
//
// Handlers are stored by identity, so the dynamic type must be comparable.
// Pointer receivers are the usual choice; wrap plain functions with NewHandler.
type Handler interface {
	HandleMessage(ctx context.Context, topic string, payload any) error
}

// funcHandler gives a plain function pointer identity.
type funcHandler struct {
	fn func(ctx context.Context, topic string, payload any) error
}

func (h *funcHandler) HandleMessage(ctx context.Context, topic string, payload any) error {
	return h.fn(ctx, topic, payload)
}

// NewHandler wraps fn as a Handler. Each call returns a distinct identity:
// keep the returned value to unsubscribe it later.
//
// Example:
//
//	h := bus.NewHandler(func(ctx context.Context, topic string, payload any) error {
//	    log.Printf("%s: %v", topic, payload)
//	    return nil
//	})
//	err := b.Subscribe(ctx, "sensors/+/temp", h)
func NewHandler(fn func(ctx context.Context, topic string, payload any) error) Handler {
	return &funcHandler{fn: fn}
}

// checkHandler enforces the registration contract.
func checkHandler(h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrConfiguration)
	}
	if fh, ok := h.(*funcHandler); ok && (fh == nil || fh.fn == nil) {
		return fmt.Errorf("%w: handler function cannot be nil", ErrConfiguration)
	}
	if !isComparable(h) {
		return fmt.Errorf("%w: handler type %T is not comparable, wrap it with bus.NewHandler", ErrConfiguration, h)
	}
	return nil
}

func isComparable(h Handler) bool {
	return reflect.TypeOf(h).Comparable()
}

// handlerGroup runs handler invocations fire-and-forget.
//
// There is no queue and no limit: every invocation gets a goroutine. The
// in-flight count is exported as a metric and crossing warnThreshold is
// logged, but nothing is ever rejected.
type handlerGroup struct {
	wg            sync.WaitGroup
	inflight      atomic.Int64
	warnThreshold int64
	warned        atomic.Bool

	logger  func() Logger
	metrics func() *Metrics
}

// Go runs h in a new goroutine, isolating errors and panics.
func (g *handlerGroup) Go(ctx context.Context, h Handler, topic string, payload any) {
	m := g.metrics()

	g.wg.Add(1)
	n := g.inflight.Add(1)
	m.handlerStarted()

	if g.warnThreshold > 0 && n >= g.warnThreshold && g.warned.CompareAndSwap(false, true) {
		if logger := g.logger(); logger != nil {
			logger.Warn("in-flight handlers crossed warning threshold",
				"inflight", n,
				"threshold", g.warnThreshold,
			)
		}
	}

	go func() {
		defer g.done(m)
		defer func() {
			if r := recover(); r != nil {
				m.handlerFailed()
				if logger := g.logger(); logger != nil {
					logger.Error("bus handler panic recovered",
						"topic", topic,
						"handler", fmt.Sprintf("%T", h),
						"panic", r,
					)
				}
			}
		}()

		if err := h.HandleMessage(ctx, topic, payload); err != nil {
			m.handlerFailed()
			if logger := g.logger(); logger != nil {
				logger.Warn("bus handler returned error",
					"topic", topic,
					"handler", fmt.Sprintf("%T", h),
					"error", err,
				)
			}
		}
	}()
}

func (g *handlerGroup) done(m *Metrics) {
	n := g.inflight.Add(-1)
	m.handlerFinished()
	if g.warnThreshold > 0 && n < g.warnThreshold/2 {
		g.warned.Store(false)
	}
	g.wg.Done()
}

// Inflight returns the number of running handler invocations.
func (g *handlerGroup) Inflight() int64 {
	return g.inflight.Load()
}

// Wait blocks until all running handlers finish or ctx is done.
func (g *handlerGroup) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for handlers: %w", ctx.Err())
	}
}
