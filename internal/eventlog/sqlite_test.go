package eventlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// captureLogger records log calls by level.
type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) log(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *captureLogger) count(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e == entry {
			n++
		}
	}
	return n
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "events.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	return NewSQLiteBackend(openTestDB(t).DB)
}

// =============================================================================
// Store / Retrieve Tests
// =============================================================================

func TestSQLiteBackend_StoreRetrieve(t *testing.T) {
	s := newTestBackend(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := &Event{
		Direction: DirectionOut,
		Topic:     "lights/hall/set",
		Payload:   []byte(`{"on":true}`),
		QoS:       transport.AtLeastOnce,
		Status:    StatusFailed,
		CreatedAt: created,
	}
	if err := s.Store(ctx, e); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if e.ID == "" {
		t.Fatal("Store() did not assign an ID")
	}

	got, err := s.Retrieve(ctx, Filter{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Retrieve() returned %d events, want 1", len(got))
	}

	r := got[0]
	if r.ID != e.ID || r.Direction != DirectionOut || r.Topic != "lights/hall/set" {
		t.Errorf("Retrieve()[0] = %+v", r)
	}
	if string(r.Payload) != `{"on":true}` {
		t.Errorf("Payload = %s, want {\"on\":true}", r.Payload)
	}
	if r.QoS != transport.AtLeastOnce {
		t.Errorf("QoS = %v, want at-least-once", r.QoS)
	}
	if !r.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", r.CreatedAt, created)
	}
}

func TestSQLiteBackend_StoreInvalid(t *testing.T) {
	s := newTestBackend(t)

	tests := []struct {
		name  string
		event Event
		want  error
	}{
		{"no topic", Event{Direction: DirectionIn, Status: StatusReceived}, ErrInvalidEvent},
		{"no direction", Event{Topic: "a", Status: StatusReceived}, ErrInvalidEvent},
		{"bad status", Event{Topic: "a", Direction: DirectionIn, Status: "lost"}, ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Store(context.Background(), &tt.event)
			if !errors.Is(err, tt.want) {
				t.Errorf("Store() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSQLiteBackend_RetrieveFilter(t *testing.T) {
	s := newTestBackend(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []Event{
		{Direction: DirectionIn, Topic: "a", Status: StatusReceived, CreatedAt: base},
		{Direction: DirectionOut, Topic: "b", Status: StatusSent, CreatedAt: base.Add(time.Minute)},
		{Direction: DirectionOut, Topic: "c", Status: StatusFailed, CreatedAt: base.Add(2 * time.Minute)},
		{Direction: DirectionOut, Topic: "d", Status: StatusFailed, CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range seed {
		if err := s.Store(ctx, &seed[i]); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"a", "b", "c", "d"}},
		{"direction", Filter{Direction: DirectionIn}, []string{"a"}},
		{"status", Filter{Statuses: []Status{StatusFailed}}, []string{"c", "d"}},
		{"statuses", Filter{Statuses: []Status{StatusSent, StatusReceived}}, []string{"a", "b"}},
		{"since", Filter{Since: base.Add(2 * time.Minute)}, []string{"c", "d"}},
		{"limit", Filter{Limit: 2}, []string{"a", "b"}},
		{"combined", Filter{Direction: DirectionOut, Statuses: []Status{StatusFailed}, Since: base.Add(3 * time.Minute)}, []string{"d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Retrieve(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			topics := make([]string, len(got))
			for i, e := range got {
				topics[i] = e.Topic
			}
			if fmt.Sprint(topics) != fmt.Sprint(tt.want) {
				t.Errorf("Retrieve() topics = %v, want %v", topics, tt.want)
			}
		})
	}
}

// =============================================================================
// Update / Prune Tests
// =============================================================================

func TestSQLiteBackend_Update(t *testing.T) {
	s := newTestBackend(t)
	ctx := context.Background()

	e := &Event{Direction: DirectionOut, Topic: "a", Status: StatusFailed}
	if err := s.Store(ctx, e); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if err := s.Update(ctx, e.ID, StatusReplayed); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Update(ctx, "evt-unknown", StatusReplayed); err != nil {
		t.Errorf("Update(unknown) error = %v, want nil", err)
	}
	if err := s.Update(ctx, e.ID, "bogus"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("Update(bogus) error = %v, want ErrInvalidStatus", err)
	}

	got, _ := s.Retrieve(ctx, Filter{Statuses: []Status{StatusReplayed}})
	if len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("Retrieve(replayed) = %+v, want event %s", got, e.ID)
	}
}

func TestSQLiteBackend_Prune(t *testing.T) {
	s := newTestBackend(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := &Event{Direction: DirectionIn, Topic: "a", Status: StatusReceived, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.Store(ctx, e); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	n, err := s.Prune(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}

	got, _ := s.Retrieve(ctx, Filter{})
	if len(got) != 1 {
		t.Errorf("Retrieve() after prune returned %d events, want 1", len(got))
	}
}

// =============================================================================
// Backend Failure Tests
// =============================================================================

func TestSQLiteBackend_UnavailableIsLogged(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteBackend(db.DB)
	logger := &captureLogger{}
	s.SetLogger(logger)
	ctx := context.Background()

	db.Close() //nolint:errcheck // Simulate an unavailable backend

	if err := s.Store(ctx, &Event{Direction: DirectionIn, Topic: "a", Status: StatusReceived}); err != nil {
		t.Errorf("Store() error = %v, want nil", err)
	}
	if err := s.Update(ctx, "evt-1", StatusSent); err != nil {
		t.Errorf("Update() error = %v, want nil", err)
	}
	got, err := s.Retrieve(ctx, Filter{})
	if err != nil {
		t.Errorf("Retrieve() error = %v, want nil", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Retrieve() = %v, want empty slice", got)
	}

	if logger.count("error: event log store failed") != 1 {
		t.Error("store failure not logged")
	}
	if logger.count("error: event log update failed") != 1 {
		t.Error("update failure not logged")
	}
	if logger.count("error: event log retrieve failed") != 1 {
		t.Error("retrieve failure not logged")
	}
}
