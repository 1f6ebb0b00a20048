package natsconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/tlsutil"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

const (
	defaultPort   = "4222"
	messageBuffer = 256
)

// Dialer opens core NATS connections.
//
// nats.go reconnection is disabled; a lost connection is reported through
// Disconnected and the caller dials again.
type Dialer struct {
	cfg       config.BusConfig
	url       *url.URL
	tlsConfig *tls.Config
}

// NewDialer validates cfg and prepares a Dialer.
//
// Returns:
//   - *Dialer: ready to Dial
//   - error: wraps transport.ErrConfiguration on invalid DSN or TLS material
func NewDialer(cfg config.BusConfig) (*Dialer, error) {
	u, err := cfg.ParseDSN()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrConfiguration, err)
	}
	if !config.IsNATSScheme(u.Scheme) {
		return nil, fmt.Errorf("%w: scheme %q is not a NATS scheme", transport.ErrConfiguration, u.Scheme)
	}

	d := &Dialer{cfg: cfg, url: u}

	if config.IsSecureScheme(u.Scheme) {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", transport.ErrConfiguration, err)
		}
		d.tlsConfig = tlsConfig
	}

	return d, nil
}

// serverURL returns the nats.go server URL, without credentials.
func (d *Dialer) serverURL() string {
	scheme := "nats"
	if d.tlsConfig != nil {
		scheme = "tls"
	}

	port := d.url.Port()
	if port == "" {
		port = defaultPort
	}

	return scheme + "://" + net.JoinHostPort(d.url.Hostname(), port)
}

// Address returns the server URL without credentials.
func (d *Dialer) Address() string {
	return d.serverURL()
}

// options builds the nats.go options for one connection.
func (d *Dialer) options(c *Conn) []nats.Option {
	opts := []nats.Option{
		nats.NoReconnect(),
		nats.Timeout(d.cfg.GetConnectTimeout()),
		nats.PingInterval(d.cfg.GetKeepAlive()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.markLost(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.markLost(nil)
		}),
	}

	if u := d.url.User; u != nil {
		opts = append(opts, nats.Name(u.Username()))
		if password, ok := u.Password(); ok {
			opts = append(opts, nats.UserInfo(u.Username(), password))
		}
	}

	if d.tlsConfig != nil {
		opts = append(opts, nats.Secure(d.tlsConfig))
	}

	return opts
}

// Dial connects to the server.
//
// Returns:
//   - transport.Conn: connected, with no subscriptions
//   - error: wraps transport.ErrConnectionFailed
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrConnectionFailed, err)
	}

	c := &Conn{
		msgs: make(chan transport.Message, messageBuffer),
		lost: make(chan struct{}),
		subs: make(map[string]*nats.Subscription),
	}

	nc, err := nats.Connect(d.serverURL(), d.options(c)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", transport.ErrConnectionFailed, d.Address(), err)
	}
	c.nc = nc

	// Cancelled while the handshake was running.
	if err := ctx.Err(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: %w", transport.ErrConnectionFailed, err)
	}

	return c, nil
}

// Conn is one NATS connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Conn struct {
	nc   *nats.Conn
	msgs chan transport.Message

	subsMu sync.Mutex
	subs   map[string]*nats.Subscription

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error
	errMu    sync.Mutex
}

// Publish sends payload to topic. Any QoS above at-most-once flushes the
// connection so the server has the message before Publish returns.
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS) error {
	if c.closed() {
		return transport.ErrClosed
	}

	subject, err := toSubject(topic)
	if err != nil {
		return err
	}

	if err := c.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	if qos > transport.AtMostOnce {
		if err := c.nc.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("flushing %s: %w", subject, err)
		}
	}

	return nil
}

// Subscribe registers interest in pattern. NATS core delivers at most once,
// so qos is accepted and ignored.
func (c *Conn) Subscribe(ctx context.Context, pattern string, _ transport.QoS) error {
	if c.closed() {
		return transport.ErrClosed
	}

	subject, err := toSubject(pattern)
	if err != nil {
		return err
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if _, exists := c.subs[pattern]; exists {
		return nil
	}

	sub, err := c.nc.Subscribe(subject, c.enqueue)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	// Round-trip so the interest is registered before we return.
	if err := c.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	c.subs[pattern] = sub
	return nil
}

// Unsubscribe removes the subscription for pattern. Unknown patterns are a no-op.
func (c *Conn) Unsubscribe(_ context.Context, pattern string) error {
	if c.closed() {
		return transport.ErrClosed
	}

	c.subsMu.Lock()
	sub, ok := c.subs[pattern]
	delete(c.subs, pattern)
	c.subsMu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", sub.Subject, err)
	}
	return nil
}

// enqueue runs on the subscription's delivery goroutine.
func (c *Conn) enqueue(msg *nats.Msg) {
	m := transport.Message{
		Topic:   fromSubject(msg.Subject),
		Payload: msg.Data,
		QoS:     transport.AtMostOnce,
	}

	select {
	case c.msgs <- m:
	case <-c.lost:
	}
}

// NextMessage blocks until a message arrives, the connection is lost or ctx
// is cancelled. Messages already queued are returned before end of stream.
func (c *Conn) NextMessage(ctx context.Context) (transport.Message, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	default:
	}

	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.lost:
		return transport.Message{}, transport.ErrEndOfStream
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

// Disconnected is closed when the connection is lost or Disconnect is called.
func (c *Conn) Disconnected() <-chan struct{} {
	return c.lost
}

// Disconnect closes the connection. Safe to call more than once.
func (c *Conn) Disconnect() {
	c.nc.Close()
	c.markLost(nil)
}

// Err returns the reason the connection was lost, or nil.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lostErr
}

func (c *Conn) markLost(err error) {
	c.lostOnce.Do(func() {
		c.errMu.Lock()
		c.lostErr = err
		c.errMu.Unlock()
		close(c.lost)
	})
}

func (c *Conn) closed() bool {
	select {
	case <-c.lost:
		return true
	default:
		return false
	}
}
