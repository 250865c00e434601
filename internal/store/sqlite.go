// ABOUTME: SQLite-backed event log using modernc.org/sqlite
// ABOUTME: Records gateway lifecycle events with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EventType classifies a gateway event.
type EventType string

// Event types recorded by the gateway.
const (
	EventSessionCreated    EventType = "session_created"
	EventSessionClosed     EventType = "session_closed"
	EventAdmissionRejected EventType = "admission_rejected"
)

// Event is one entry in the gateway's event log.
type Event struct {
	ID         string
	Type       EventType
	SessionID  string
	RemoteAddr string
	Detail     string
	CreatedAt  time.Time
}

// EventStore records and summarizes gateway events. The gateway treats it
// as optional: a nil *SQLiteStore disables logging entirely.
type EventStore interface {
	RecordEvent(ctx context.Context, ev *Event) error
	EventCounts(ctx context.Context) (map[EventType]int64, error)
	Close() error
}

// SQLiteStore implements EventStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite event store at the given path.
// The schema is automatically created if it doesn't exist and parent
// directories are created if needed. ":memory:" is accepted for tests.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default().With("component", "store")
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS gateway_events (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			session_id  TEXT,
			remote_addr TEXT,
			detail      TEXT,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_gateway_events_type ON gateway_events(type);
		CREATE INDEX IF NOT EXISTS idx_gateway_events_created ON gateway_events(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// RecordEvent stores one event. Missing ID and CreatedAt are filled in.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO gateway_events (id, type, session_id, remote_addr, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		string(ev.Type),
		nullString(ev.SessionID),
		nullString(ev.RemoteAddr),
		nullString(ev.Detail),
		ev.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("recorded event", "id", ev.ID, "type", ev.Type, "session_id", ev.SessionID)
	return nil
}

// EventCounts returns lifetime totals per event type.
func (s *SQLiteStore) EventCounts(ctx context.Context) (map[EventType]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM gateway_events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	counts := make(map[EventType]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scanning event count: %w", err)
		}
		counts[EventType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event counts: %w", err)
	}
	return counts, nil
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT id, type, session_id, remote_addr, detail, created_at
		FROM gateway_events
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var sessionID, remoteAddr, detail sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Type, &sessionID, &remoteAddr, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.SessionID = sessionID.String
		ev.RemoteAddr = remoteAddr.String
		ev.Detail = detail.String
		ev.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts empty strings to NULL for storage.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
