// Package audit persists session and transaction lifecycle events.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/dbbridge/driver"
)

// AuditEvent represents an audit log entry in the database
type AuditEvent struct {
	ID            string `db:"id"`
	EventType     string `db:"event_type"`
	Timestamp     int64  `db:"timestamp"` // Unix milliseconds
	SessionID     string `db:"session_id"`
	Database      string `db:"database_name"`
	TransactionID string `db:"transaction_id"`
	Detail        string `db:"detail"`
}

// Time returns the event timestamp.
func (e AuditEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Logger records driver lifecycle events. It implements driver.EventRecorder.
type Logger struct {
	db *sqlx.DB
}

var _ driver.EventRecorder = (*Logger)(nil)

// NewLogger creates a new audit logger instance
func NewLogger(db *sqlx.DB) (*Logger, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Logger{
		db: db,
	}, nil
}

// DBInit initializes the audit events database table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		database_name TEXT NOT NULL,
		transaction_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_session_id ON audit_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create audit_events index: %w", err)
		}
	}
	return nil
}

func (l *Logger) insertEvent(event *AuditEvent) error {
	_, err := l.db.NamedExec(`
		INSERT INTO audit_events (
			id, event_type, timestamp, session_id, database_name, transaction_id, detail
		) VALUES (:id, :event_type, :timestamp, :session_id, :database_name, :transaction_id, :detail)`,
		event,
	)
	return err
}

// RecordEvent stores one lifecycle event.
func (l *Logger) RecordEvent(event driver.Event) error {
	return l.insertEvent(&AuditEvent{
		ID:            uuid.New().String(),
		EventType:     string(event.Type),
		Timestamp:     time.Now().UTC().UnixMilli(),
		SessionID:     event.SessionID.String(),
		Database:      event.Database,
		TransactionID: event.TransactionID,
		Detail:        event.Detail,
	})
}

// GetEventsBySession retrieves the events of one session, newest first
func (l *Logger) GetEventsBySession(sessionID uuid.UUID, limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	err := l.db.Select(&events,
		"SELECT * FROM audit_events WHERE session_id = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		sessionID.String(), limit)
	return events, err
}

// GetEventsByType retrieves audit events of a specific type
func (l *Logger) GetEventsByType(eventType driver.EventType, limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	err := l.db.Select(&events,
		"SELECT * FROM audit_events WHERE event_type = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		string(eventType), limit)
	return events, err
}

// GetRecentEvents retrieves the most recent audit events
func (l *Logger) GetRecentEvents(limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	err := l.db.Select(&events,
		"SELECT * FROM audit_events ORDER BY timestamp DESC, rowid DESC LIMIT $1",
		limit)
	return events, err
}

// DeleteOldEvents deletes audit events older than the specified duration
func (l *Logger) DeleteOldEvents(olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan).UnixMilli()
	result, err := l.db.Exec("DELETE FROM audit_events WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
