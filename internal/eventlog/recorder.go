package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-bus/internal/bus"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Recorder defaults.
const (
	DefaultQueueSize = 1024

	// dropLogEvery limits queue-full warnings to one per this many drops.
	dropLogEvery = 100
)

// RecorderConfig tunes a Recorder.
type RecorderConfig struct {
	// QueueSize bounds events waiting to be written. Default: 1024.
	QueueSize int

	// TTL is how long events are kept. 0 keeps them forever.
	TTL time.Duration

	// PruneInterval is how often expired events are deleted.
	PruneInterval time.Duration

	// ReplayWindow limits replay to failed events newer than this.
	// 0 replays every failed event still stored.
	ReplayWindow time.Duration
}

// Recorder writes bus traffic to a Backend and replays failed publishes.
//
// It implements bus.Observer. Observer callbacks only enqueue; a single
// writer goroutine (Run) talks to the backend, so the bus is never blocked
// by storage. When the queue is full events are dropped and counted.
//
// Thread Safety:
//   - Observer methods and TriggerReplay are safe for concurrent use.
//   - Run must be called exactly once.
type Recorder struct {
	backend   Backend
	cfg       RecorderConfig
	clock     clock.Clock
	queue     chan Event
	replay    chan struct{}
	publisher Publisher
	logger    bus.Logger
	dropped   atomic.Int64
}

// NewRecorder creates a Recorder writing to backend.
func NewRecorder(backend Backend, cfg RecorderConfig) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Recorder{
		backend: backend,
		cfg:     cfg,
		clock:   clock.New(),
		queue:   make(chan Event, cfg.QueueSize),
		replay:  make(chan struct{}, 1),
	}
}

// SetLogger sets the logger. Call before Run.
func (r *Recorder) SetLogger(logger bus.Logger) {
	r.logger = logger
}

// SetPublisher sets where replayed events are sent. Call before Run.
func (r *Recorder) SetPublisher(p Publisher) {
	r.publisher = p
}

// Dropped returns how many events were lost to a full queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// MessageReceived records an inbound message.
func (r *Recorder) MessageReceived(topic string, payload []byte) {
	r.enqueue(Event{
		Direction: DirectionIn,
		Topic:     topic,
		Payload:   append([]byte(nil), payload...),
		Status:    StatusReceived,
	})
}

// MessagePublished records an outbound message as sent or failed.
// Only delivery failures are recorded; messages rejected before reaching the
// transport (encoding, invalid topic) would fail the same way on replay.
func (r *Recorder) MessagePublished(topic string, payload []byte, qos transport.QoS, err error) {
	if err != nil && !errors.Is(err, bus.ErrNotConnected) && !errors.Is(err, bus.ErrPublishFailed) {
		return
	}

	status := StatusSent
	if err != nil {
		status = StatusFailed
	}

	r.enqueue(Event{
		Direction: DirectionOut,
		Topic:     topic,
		Payload:   append([]byte(nil), payload...),
		QoS:       qos,
		Status:    status,
	})
}

func (r *Recorder) enqueue(e Event) {
	e.CreatedAt = r.clock.Now().UTC()

	select {
	case r.queue <- e:
	default:
		if n := r.dropped.Add(1); n == 1 || n%dropLogEvery == 0 {
			r.warn("event log queue full, dropping events", "dropped", n, "topic", e.Topic)
		}
	}
}

// TriggerReplay asks Run to replay failed events. Requests made while a
// replay is already pending are merged.
func (r *Recorder) TriggerReplay() {
	select {
	case r.replay <- struct{}{}:
	default:
	}
}

// Run writes queued events until ctx is cancelled, then drains the queue.
// It also prunes expired events and performs requested replays.
func (r *Recorder) Run(ctx context.Context) error {
	var prune <-chan time.Time
	if r.cfg.TTL > 0 && r.cfg.PruneInterval > 0 {
		ticker := r.clock.Ticker(r.cfg.PruneInterval)
		defer ticker.Stop()
		prune = ticker.C
	}

	for {
		select {
		case e := <-r.queue:
			r.store(ctx, &e)

		case <-r.replay:
			since := time.Time{}
			if r.cfg.ReplayWindow > 0 {
				since = r.clock.Now().Add(-r.cfg.ReplayWindow)
			}
			if _, err := r.Replay(ctx, since); err != nil {
				r.warn("event replay incomplete", "error", err)
			}

		case <-prune:
			r.prune(ctx)

		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.store(ctx, &e)
		default:
			return
		}
	}
}

func (r *Recorder) store(ctx context.Context, e *Event) {
	if err := r.backend.Store(ctx, e); err != nil {
		r.warn("event not recorded", "error", err, "topic", e.Topic)
	}
}

func (r *Recorder) prune(ctx context.Context) {
	p, ok := r.backend.(Pruner)
	if !ok {
		return
	}

	cutoff := r.clock.Now().Add(-r.cfg.TTL)
	n, err := p.Prune(ctx, cutoff)
	if err != nil {
		r.warn("event prune failed", "error", err)
		return
	}
	if n > 0 && r.logger != nil {
		r.logger.Debug("pruned expired events", "count", n, "cutoff", cutoff)
	}
}

// Replay republishes failed outbound events created at or after since,
// oldest first. Each event that goes out is marked replayed; events the
// transport rejects stay failed for the next replay. Replay stops early if
// the bus is not connected.
//
// Returns:
//   - int: number of events replayed
//   - error: bus.ErrNotConnected if replay was cut short, nil otherwise
func (r *Recorder) Replay(ctx context.Context, since time.Time) (int, error) {
	if r.publisher == nil {
		return 0, fmt.Errorf("event replay: no publisher set")
	}

	events, err := r.backend.Retrieve(ctx, Filter{
		Since:     since,
		Statuses:  []Status{StatusFailed},
		Direction: DirectionOut,
	})
	if err != nil {
		return 0, fmt.Errorf("retrieving failed events: %w", err)
	}

	replayed := 0
	for _, e := range events {
		err := r.publisher.TryPublish(ctx, e.Topic, e.Payload, e.QoS)
		if errors.Is(err, bus.ErrNotConnected) {
			return replayed, err
		}
		if err != nil {
			r.warn("event replay failed", "event_id", e.ID, "topic", e.Topic, "error", err)
			continue
		}

		if err := r.backend.Update(ctx, e.ID, StatusReplayed); err != nil {
			r.warn("event status not updated", "event_id", e.ID, "error", err)
		}
		replayed++
	}

	if len(events) > 0 && r.logger != nil {
		r.logger.Info("replayed failed events", "replayed", replayed, "failed", len(events)-replayed)
	}

	return replayed, nil
}

func (r *Recorder) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
