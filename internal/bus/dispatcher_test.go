package bus

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestDispatch_EndToEnd(t *testing.T) {
	dialer := &fakeDialer{}
	b := startBus(t, dialer)
	h := newRecordingHandler()

	if err := b.Subscribe(context.Background(), "sensors/+/temp", h); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	conn := dialer.conn(0)
	conn.deliver("sensors/room1/temp", `{"v": 21.5}`)

	call := h.next(t)
	if call.topic != "sensors/room1/temp" {
		t.Errorf("handler topic = %q, want sensors/room1/temp", call.topic)
	}
	if want := map[string]any{"v": 21.5}; !reflect.DeepEqual(call.payload, want) {
		t.Errorf("handler payload = %#v, want %#v", call.payload, want)
	}
	h.expectNone(t)

	conn.deliver("sensors/room1/humidity", `{"v": 40}`)
	h.expectNone(t)
}

func TestDispatch_MalformedPayloadDropped(t *testing.T) {
	dialer := &fakeDialer{}
	b := startBus(t, dialer)
	logger := &captureLogger{}
	b.SetLogger(logger)
	h := newRecordingHandler()
	_ = b.Subscribe(context.Background(), "a/b", h)

	conn := dialer.conn(0)
	conn.deliver("a/b", `{"v":`)
	conn.deliver("a/b", `{"v": 1}`)

	call := h.next(t)
	if want := map[string]any{"v": int64(1)}; !reflect.DeepEqual(call.payload, want) {
		t.Errorf("handler payload = %#v, want %#v", call.payload, want)
	}
	h.expectNone(t)

	if got := logger.count("error", "dropping message"); got != 1 {
		t.Errorf("decode error logs = %d, want 1", got)
	}
	if !b.IsConnected() {
		t.Error("IsConnected() = false after malformed payload, want true")
	}
}

func TestDispatch_LiteralAndWildcardBothReceive(t *testing.T) {
	dialer := &fakeDialer{}
	b := startBus(t, dialer)
	literal, wildcard := newRecordingHandler(), newRecordingHandler()
	_ = b.Subscribe(context.Background(), "a/b", literal)
	_ = b.Subscribe(context.Background(), "a/#", wildcard)

	dialer.conn(0).deliver("a/b", `1`)

	literal.next(t)
	wildcard.next(t)
}

func TestDispatch_FailingHandlerIsolated(t *testing.T) {
	dialer := &fakeDialer{}
	b := startBus(t, dialer)
	good := newRecordingHandler()

	panicking := NewHandler(func(context.Context, string, any) error { panic("handler bug") })
	failing := NewHandler(func(context.Context, string, any) error { return errors.New("nope") })

	_ = b.Subscribe(context.Background(), "t", panicking)
	_ = b.Subscribe(context.Background(), "t", failing)
	_ = b.Subscribe(context.Background(), "t", good)

	conn := dialer.conn(0)
	conn.deliver("t", `"first"`)
	conn.deliver("t", `"second"`)

	if got := good.next(t).payload; got != "first" {
		t.Errorf("first payload = %v, want first", got)
	}
	if got := good.next(t).payload; got != "second" {
		t.Errorf("second payload = %v, want second", got)
	}
	if !b.IsConnected() {
		t.Error("IsConnected() = false after handler failures, want true")
	}
}

func TestDispatch_HandlersGetPrivatePayload(t *testing.T) {
	dialer := &fakeDialer{}
	b := startBus(t, dialer)

	seen := make(chan any, 2)
	mutate := func(_ context.Context, _ string, payload any) error {
		m := payload.(map[string]any)
		seen <- m["v"]
		m["v"] = "changed"
		return nil
	}
	_ = b.Subscribe(context.Background(), "t", NewHandler(mutate))
	_ = b.Subscribe(context.Background(), "t", NewHandler(mutate))

	dialer.conn(0).deliver("t", `{"v": 21.5}`)

	for n := 0; n < 2; n++ {
		select {
		case v := <-seen:
			if v != 21.5 {
				t.Errorf("handler saw v = %v, want 21.5", v)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handlers")
		}
	}
}

func TestDispatch_NotifiesObserver(t *testing.T) {
	dialer := &fakeDialer{}
	b, _ := New(Config{}, dialer)
	obs := &recordingObserver{}
	b.AddObserver(obs)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop(context.Background())
	waitFor(t, "listening", b.IsConnected)

	dialer.conn(0).deliver("unsubscribed/topic", `{}`)

	waitFor(t, "observer", func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.received) == 1 && obs.received[0] == "unsubscribed/topic"
	})
}

// =============================================================================
// Shutdown Tests
// =============================================================================

func TestStop_WaitsForHandlersWithoutCancelling(t *testing.T) {
	dialer := &fakeDialer{}
	b, _ := New(Config{}, dialer)

	started := make(chan struct{})
	release := make(chan struct{})
	ctxErr := make(chan error, 1)
	_ = b.Subscribe(context.Background(), "slow", NewHandler(func(ctx context.Context, _ string, _ any) error {
		close(started)
		<-release
		ctxErr <- ctx.Err()
		return nil
	}))

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "listening", b.IsConnected)
	dialer.conn(0).deliver("slow", `null`)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- b.Stop(context.Background()) }()

	select {
	case err := <-stopped:
		t.Fatalf("Stop() returned %v before handler finished", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	if err := <-stopped; err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := <-ctxErr; err != nil {
		t.Errorf("handler context error = %v, want nil", err)
	}
}

func TestStop_HandlerWaitTimesOut(t *testing.T) {
	dialer := &fakeDialer{}
	b, _ := New(Config{}, dialer)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	_ = b.Subscribe(context.Background(), "stuck", NewHandler(func(context.Context, string, any) error {
		close(started)
		<-release
		return nil
	}))

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "listening", b.IsConnected)
	dialer.conn(0).deliver("stuck", `null`)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want DeadlineExceeded", err)
	}
	if got := b.InflightHandlers(); got != 1 {
		t.Errorf("InflightHandlers() = %d, want 1", got)
	}
}
