package driver

import "github.com/google/uuid"

// EventType names a lifecycle transition.
type EventType string

const (
	EventSessionOpen         EventType = "session_open"
	EventSessionClose        EventType = "session_close"
	EventSessionForceClose   EventType = "session_force_close"
	EventSessionReopen       EventType = "session_reopen"
	EventSessionServerClose  EventType = "session_server_close"
	EventTransactionOpen     EventType = "transaction_open"
	EventTransactionClose    EventType = "transaction_close"
	EventTransactionCommit   EventType = "transaction_commit"
	EventTransactionRollback EventType = "transaction_rollback"
)

// Event describes one lifecycle transition of a session or of one of its
// transactions.
type Event struct {
	Type          EventType
	SessionID     uuid.UUID
	Database      string
	TransactionID string // empty for session events
	Detail        string
}

// EventRecorder receives lifecycle events. Recording failures are logged and
// never affect the lifecycle.
type EventRecorder interface {
	RecordEvent(event Event) error
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(Event) error { return nil }
