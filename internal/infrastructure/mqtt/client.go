package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/tlsutil"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Dialer opens MQTT connections with paho.mqtt.golang.
//
// Configuration problems (bad DSN, missing or unreadable TLS material) are
// reported by NewDialer, never by Dial.
//
// Thread Safety:
//   - Dial may be called concurrently; each call creates an independent client.
type Dialer struct {
	cfg       config.BusConfig
	url       *url.URL
	tlsConfig *tls.Config
}

// NewDialer validates cfg and prepares a Dialer.
//
// Parameters:
//   - cfg: bus configuration with an MQTT scheme DSN
//
// Returns:
//   - *Dialer: ready to Dial
//   - error: wraps transport.ErrConfiguration on invalid DSN or TLS material
func NewDialer(cfg config.BusConfig) (*Dialer, error) {
	u, err := cfg.ParseDSN()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrConfiguration, err)
	}
	if !config.IsMQTTScheme(u.Scheme) {
		return nil, fmt.Errorf("%w: scheme %q is not an MQTT scheme", transport.ErrConfiguration, u.Scheme)
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

// Address returns the broker URL without credentials.
func (d *Dialer) Address() string {
	return describe(d.url)
}

// Dial connects to the broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, client ID, TLS)
//  2. Routes every inbound message to the connection's queue
//  3. Attempts the connection, bounded by ctx and connect_timeout
//
// Returns:
//   - transport.Conn: connected, with no subscriptions
//   - error: wraps transport.ErrConnectionFailed
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	c := &Conn{
		msgs: make(chan transport.Message, messageBuffer),
		lost: make(chan struct{}),
	}

	opts := buildClientOptions(d.cfg, d.url, d.tlsConfig)

	// Subscriptions are made with a nil callback, so every message lands here.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.enqueue(msg)
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.markLost(err)
	})

	c.client = pahomqtt.NewClient(opts)

	if err := wait(ctx, c.client.Connect()); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", transport.ErrConnectionFailed, d.Address(), err)
	}

	return c, nil
}

// Conn is one paho client session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Conn struct {
	client pahomqtt.Client
	msgs   chan transport.Message

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error
	errMu    sync.Mutex
}

// enqueue hands a paho message to NextMessage. It gives up once the
// connection is gone so paho's router never blocks on a dead consumer.
func (c *Conn) enqueue(msg pahomqtt.Message) {
	m := transport.Message{
		Topic:   msg.Topic(),
		Payload: msg.Payload(),
		QoS:     transport.QoS(msg.Qos()),
	}

	select {
	case c.msgs <- m:
	case <-c.lost:
	}
}

func (c *Conn) markLost(err error) {
	c.lostOnce.Do(func() {
		c.errMu.Lock()
		c.lostErr = err
		c.errMu.Unlock()
		close(c.lost)
	})
}

// Err returns the reason the connection was lost, or nil.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lostErr
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
		if err := c.Err(); err != nil {
			return transport.Message{}, fmt.Errorf("%w: %w", transport.ErrEndOfStream, err)
		}
		return transport.Message{}, transport.ErrEndOfStream
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

// Disconnected is closed when the connection is lost or Disconnect is called.
func (c *Conn) Disconnected() <-chan struct{} {
	return c.lost
}

// Disconnect closes the session gracefully, waiting briefly for in-flight work.
func (c *Conn) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
	c.markLost(nil)
}

// wait blocks on a paho token, bounded by ctx (or defaultOperationTimeout).
func wait(ctx context.Context, token pahomqtt.Token) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultOperationTimeout)
		defer cancel()
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", transport.ErrTimeout, ctx.Err())
	}
}
