package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// =============================================================================
// Fake transport
// =============================================================================

type subCall struct {
	pattern string
	qos     transport.QoS
}

type fakeConn struct {
	mu          sync.Mutex
	subs        []subCall
	unsubs      []string
	pubs        []transport.Message
	subErr      error
	unsubErr    error
	pubErr      error
	disconnects int

	msgs     chan transport.Message
	lost     chan struct{}
	lostOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan transport.Message, 64),
		lost: make(chan struct{}),
	}
}

func (c *fakeConn) Publish(_ context.Context, topic string, payload []byte, qos transport.QoS) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubErr != nil {
		return c.pubErr
	}
	c.pubs = append(c.pubs, transport.Message{Topic: topic, Payload: payload, QoS: qos})
	return nil
}

func (c *fakeConn) Subscribe(_ context.Context, pattern string, qos transport.QoS) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.subs = append(c.subs, subCall{pattern: pattern, qos: qos})
	return nil
}

func (c *fakeConn) Unsubscribe(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubErr != nil {
		return c.unsubErr
	}
	c.unsubs = append(c.unsubs, pattern)
	return nil
}

func (c *fakeConn) NextMessage(ctx context.Context) (transport.Message, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-c.lost:
		return transport.Message{}, transport.ErrEndOfStream
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (c *fakeConn) Disconnected() <-chan struct{} {
	return c.lost
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.lose()
}

// lose simulates the broker dropping the connection.
func (c *fakeConn) lose() {
	c.lostOnce.Do(func() { close(c.lost) })
}

func (c *fakeConn) deliver(topic, payload string) {
	c.msgs <- transport.Message{Topic: topic, Payload: []byte(payload), QoS: transport.AtLeastOnce}
}

func (c *fakeConn) subCalls() []subCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]subCall(nil), c.subs...)
}

func (c *fakeConn) unsubCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubs...)
}

func (c *fakeConn) published() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Message(nil), c.pubs...)
}

func (c *fakeConn) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int // first N dials fail
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failures < 0 || d.dials <= d.failures {
		return nil, fmt.Errorf("%w: broker unreachable", transport.ErrConnectionFailed)
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Address() string {
	return "fake://broker"
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// conn returns the i-th successful connection, or nil.
func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// =============================================================================
// Helpers
// =============================================================================

type logEntry struct {
	level string
	msg   string
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *captureLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

type publishRecord struct {
	topic   string
	payload []byte
	qos     transport.QoS
	err     error
}

type recordingObserver struct {
	mu        sync.Mutex
	received  []string
	published []publishRecord
}

func (o *recordingObserver) MessageReceived(topic string, _ []byte) {
	o.mu.Lock()
	o.received = append(o.received, topic)
	o.mu.Unlock()
}

func (o *recordingObserver) MessagePublished(topic string, payload []byte, qos transport.QoS, err error) {
	o.mu.Lock()
	o.published = append(o.published, publishRecord{topic: topic, payload: payload, qos: qos, err: err})
	o.mu.Unlock()
}

func (o *recordingObserver) publishes() []publishRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]publishRecord(nil), o.published...)
}

type handlerCall struct {
	topic   string
	payload any
}

// recordingHandler forwards every invocation to calls.
type recordingHandler struct {
	calls chan handlerCall
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{calls: make(chan handlerCall, 64)}
}

func (h *recordingHandler) HandleMessage(_ context.Context, topic string, payload any) error {
	h.calls <- handlerCall{topic: topic, payload: payload}
	return nil
}

func (h *recordingHandler) next(t *testing.T) handlerCall {
	t.Helper()
	select {
	case c := <-h.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler call")
		return handlerCall{}
	}
}

func (h *recordingHandler) expectNone(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.calls:
		t.Fatalf("unexpected handler call on %q", c.topic)
	case <-time.After(50 * time.Millisecond):
	}
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startBus starts a bus on dialer and waits until it is listening.
func startBus(t *testing.T, dialer *fakeDialer) *Bus {
	t.Helper()

	b, err := New(Config{Name: "test"}, dialer)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})

	waitFor(t, "listening state", func() bool { return b.State() == StateListening })
	return b
}
