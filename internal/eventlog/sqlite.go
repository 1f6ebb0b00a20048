package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-bus/internal/bus"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

const (
	defaultLimit = 500
	maxLimit     = 5000
)

// SQLiteBackend keeps events in the bus_events table.
//
// Storage failures (locked or missing database, full disk) are logged and
// swallowed: losing an event log entry must never disturb message flow.
// Invalid input is still reported to the caller.
type SQLiteBackend struct {
	db     *sql.DB
	logger bus.Logger
}

// NewSQLiteBackend creates a backend on an open database whose schema has
// been applied (see database.Open).
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// SetLogger sets the logger for storage failures.
func (s *SQLiteBackend) SetLogger(logger bus.Logger) {
	s.logger = logger
}

// Store inserts event. ID and CreatedAt are generated if empty.
func (s *SQLiteBackend) Store(ctx context.Context, event *Event) error {
	if event.Topic == "" || (event.Direction != DirectionIn && event.Direction != DirectionOut) {
		return fmt.Errorf("%w: topic %q direction %q", ErrInvalidEvent, event.Topic, event.Direction)
	}
	if !event.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, event.Status)
	}
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	created := event.CreatedAt.UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bus_events (id, direction, topic, payload, qos, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Direction), event.Topic, event.Payload,
		int(event.QoS), string(event.Status), created, created,
	)
	if err != nil {
		s.logError("event log store failed", err, "event_id", event.ID, "topic", event.Topic)
	}
	return nil
}

// Update sets the status of event id. Unknown ids are ignored.
func (s *SQLiteBackend) Update(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE bus_events SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().UnixNano(), id,
	)
	if err != nil {
		s.logError("event log update failed", err, "event_id", id, "status", status)
	}
	return nil
}

// Retrieve returns events matching filter, oldest first. Storage failures
// yield an empty result.
func (s *SQLiteBackend) Retrieve(ctx context.Context, filter Filter) ([]Event, error) { //nolint:gocognit // dynamic query builder
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	var conditions []string
	var args []any

	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if filter.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit)

	// WHERE clause is built from parameterised conditions only.
	query := `SELECT id, direction, topic, payload, qos, status, created_at
		FROM bus_events ` + where + ` ORDER BY created_at ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logError("event log retrieve failed", err)
		return []Event{}, nil
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e         Event
			direction string
			status    string
			qos       int
			created   int64
		)
		if err := rows.Scan(&e.ID, &direction, &e.Topic, &e.Payload, &qos, &status, &created); err != nil {
			s.logError("event log retrieve failed", err)
			return []Event{}, nil
		}
		e.Direction = Direction(direction)
		e.Status = Status(status)
		e.QoS = transport.QoS(qos) //nolint:gosec // stored from a valid QoS
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		s.logError("event log retrieve failed", err)
		return []Event{}, nil
	}

	return events, nil
}

// Prune deletes events created before the cutoff.
func (s *SQLiteBackend) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bus_events WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return n, nil
}

func (s *SQLiteBackend) logError(msg string, err error, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Error(msg, append([]any{"error", err}, args...)...)
}
