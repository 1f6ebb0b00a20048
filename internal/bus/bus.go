package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Bus defaults.
const (
	// DefaultReconnectDelay is the fixed wait between failed connection attempts.
	DefaultReconnectDelay = 3 * time.Second

	// DefaultOperationTimeout bounds each wire subscribe/unsubscribe/publish call.
	DefaultOperationTimeout = 10 * time.Second

	// SubscribeQoS is the level used for first-time wire subscriptions.
	SubscribeQoS = transport.ExactlyOnce

	// ResubscribeQoS is the degraded level used when replaying subscriptions.
	ResubscribeQoS = transport.AtLeastOnce
)

// QoS convenience aliases.
const (
	AtMostOnce  = transport.AtMostOnce
	AtLeastOnce = transport.AtLeastOnce
	ExactlyOnce = transport.ExactlyOnce
)

// State is the connection state owned by the supervisor.
type State int

// Connection states. The supervisor cycles between StateDisconnected and
// StateListening until the bus is stopped.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateListening
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer is notified of traffic crossing the bus.
//
// Callbacks run synchronously on the dispatch and publish paths and must not
// block; hand work off to another goroutine if it involves I/O.
type Observer interface {
	// MessageReceived is called for every inbound message before decoding.
	MessageReceived(topic string, payload []byte)

	// MessagePublished is called for every Publish call. err is nil on success,
	// ErrNotConnected when the bus was not listening, or wraps ErrPublishFailed
	// or ErrEncode. payload is nil when encoding failed.
	MessagePublished(topic string, payload []byte, qos transport.QoS, err error)
}

// Config contains bus tuning options. Connection settings belong to the Dialer.
type Config struct {
	// Name identifies this client (normally the user part of the DSN).
	Name string

	// ReconnectDelay is the wait after a failed connection attempt.
	// Default: 3s.
	ReconnectDelay time.Duration

	// OperationTimeout bounds individual wire calls made by the supervisor.
	// Default: 10s.
	OperationTimeout time.Duration

	// HandlerWarnThreshold logs a warning when this many handlers are in
	// flight at once. 0 disables the warning.
	HandlerWarnThreshold int
}

// Bus is a process-local pub/sub client with automatic reconnection and
// resubscription.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are replayed on every reconnection.
type Bus struct {
	cfg      Config
	dialer   transport.Dialer
	registry *Registry
	handlers *handlerGroup
	clock    clock.Clock

	// state and conn are owned by the supervisor; others only read them.
	state State
	conn  transport.Conn
	mu    sync.RWMutex

	// subMu orders wire-level subscribe/unsubscribe calls against replay.
	subMu sync.Mutex

	// lifecycle
	started bool
	stopped bool
	cancel  context.CancelFunc
	runDone chan struct{}
	lifeMu  sync.Mutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func()
	observers    []Observer
	metrics      *Metrics
	logger       Logger
	hookMu       sync.RWMutex
}

// New creates a Bus that connects through dialer.
//
// The bus is idle until Start is called. Subscriptions may be registered
// before Start; they are sent to the broker on the first connection.
//
// Parameters:
//   - cfg: bus options (zero values take defaults)
//   - dialer: transport used for every connection attempt
//
// Returns:
//   - *Bus: ready to Start
//   - error: ErrConfiguration if dialer is nil or cfg is invalid
func New(cfg Config, dialer transport.Dialer) (*Bus, error) {
	if dialer == nil {
		return nil, fmt.Errorf("%w: dialer cannot be nil", ErrConfiguration)
	}
	if cfg.ReconnectDelay < 0 || cfg.OperationTimeout < 0 || cfg.HandlerWarnThreshold < 0 {
		return nil, fmt.Errorf("%w: durations and thresholds must not be negative", ErrConfiguration)
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}

	b := &Bus{
		cfg:      cfg,
		dialer:   dialer,
		registry: NewRegistry(),
		clock:    clock.New(),
		state:    StateDisconnected,
	}
	b.handlers = &handlerGroup{
		warnThreshold: int64(cfg.HandlerWarnThreshold),
		logger:        b.getLogger,
		metrics:       b.getMetrics,
	}

	return b, nil
}

// Name returns the configured client name.
func (b *Bus) Name() string {
	return b.cfg.Name
}

// SetLogger sets a logger for connection, dispatch and handler events.
// If not set, the bus runs silently.
func (b *Bus) SetLogger(logger Logger) {
	b.hookMu.Lock()
	b.logger = logger
	b.hookMu.Unlock()
}

// SetMetrics attaches Prometheus collectors. Call before Start.
func (b *Bus) SetMetrics(m *Metrics) {
	b.hookMu.Lock()
	b.metrics = m
	b.hookMu.Unlock()
	m.setState(b.State())
	m.setSubscriptions(b.registry.Len())
}

// AddObserver registers an Observer. Call before Start.
func (b *Bus) AddObserver(o Observer) {
	if o == nil {
		return
	}
	b.hookMu.Lock()
	b.observers = append(b.observers, o)
	b.hookMu.Unlock()
}

// SetOnConnect sets a callback invoked each time the bus reaches the
// listening state (initial connect and every reconnect).
func (b *Bus) SetOnConnect(callback func()) {
	b.hookMu.Lock()
	b.onConnect = callback
	b.hookMu.Unlock()
}

// SetOnDisconnect sets a callback invoked each time a connection ends.
func (b *Bus) SetOnDisconnect(callback func()) {
	b.hookMu.Lock()
	b.onDisconnect = callback
	b.hookMu.Unlock()
}

func (b *Bus) getLogger() Logger {
	b.hookMu.RLock()
	defer b.hookMu.RUnlock()
	return b.logger
}

func (b *Bus) getMetrics() *Metrics {
	b.hookMu.RLock()
	defer b.hookMu.RUnlock()
	return b.metrics
}

func (b *Bus) getObservers() []Observer {
	b.hookMu.RLock()
	defer b.hookMu.RUnlock()
	return b.observers
}

// Start launches the connection supervisor.
//
// Start returns immediately; connection attempts continue in the background
// until Stop is called or ctx is cancelled. Connection failures are logged
// and retried, never returned.
//
// Returns:
//   - error: ErrAlreadyStarted or ErrStopped on misuse
func (b *Bus) Start(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.stopped {
		return ErrStopped
	}
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.runDone = make(chan struct{})

	go b.supervise(runCtx)

	return nil
}

// Stop shuts the bus down.
//
// It performs:
//  1. Cancels the supervisor and the dispatcher
//  2. Disconnects gracefully from the broker if connected
//  3. Drops every registered pattern
//  4. Waits for in-flight handlers until ctx expires
//
// Stop is idempotent. Handlers are not interrupted; they receive a context
// that is not cancelled by Stop.
//
// Returns:
//   - error: if ctx expires before the supervisor or handlers finish
func (b *Bus) Stop(ctx context.Context) error {
	b.lifeMu.Lock()
	if !b.started || b.stopped {
		wasStopped := b.stopped
		b.stopped = true
		b.lifeMu.Unlock()
		if !wasStopped {
			b.clearSubscriptions()
		}
		return nil
	}
	b.stopped = true
	cancel := b.cancel
	done := b.runDone
	b.lifeMu.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stopping bus supervisor: %w", ctx.Err())
	}

	b.clearSubscriptions()

	if err := b.handlers.Wait(ctx); err != nil {
		return fmt.Errorf("stopping bus: %w", err)
	}

	if logger := b.getLogger(); logger != nil {
		logger.Info("bus stopped")
	}
	return nil
}

// clearSubscriptions drops every pattern after shutdown.
func (b *Bus) clearSubscriptions() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.registry.Clear()
	b.getMetrics().setSubscriptions(0)
}

// State returns the current connection state.
func (b *Bus) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsConnected reports whether the bus is listening.
func (b *Bus) IsConnected() bool {
	return b.State() == StateListening
}

// HealthCheck verifies the bus is connected and listening.
//
// Returns:
//   - error: nil if listening, ErrNotConnected otherwise
func (b *Bus) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("bus health check: %w", ctx.Err())
	default:
	}

	if !b.IsConnected() {
		return fmt.Errorf("%w: state %s", ErrNotConnected, b.State())
	}
	return nil
}

// InflightHandlers returns the number of handler invocations still running.
func (b *Bus) InflightHandlers() int64 {
	return b.handlers.Inflight()
}

// listeningConn returns the active connection, or nil unless listening.
func (b *Bus) listeningConn() transport.Conn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateListening {
		return nil
	}
	return b.conn
}

// setState records a transition. Only the supervisor calls it.
func (b *Bus) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.getMetrics().setState(s)
}

// setConn swaps the active connection along with the state.
func (b *Bus) setConn(conn transport.Conn, s State) {
	b.mu.Lock()
	b.conn = conn
	b.state = s
	b.mu.Unlock()
	b.getMetrics().setState(s)
}

// opContext bounds a single wire call.
func (b *Bus) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.OperationTimeout)
}
