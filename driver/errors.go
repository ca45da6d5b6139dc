package driver

import "errors"

var (
	ErrDatabaseNotFound    = errors.New("database not found")
	ErrSessionClosed       = errors.New("session is closed")
	ErrTransactionClosed   = errors.New("transaction is closed")
	ErrSessionInvalidated  = errors.New("session invalidated by server")
	ErrForceCloseFailed    = errors.New("force close failed")
	ErrReopenFailed        = errors.New("session reopen failed")
	ErrSessionTypeMismatch = errors.New("operation not permitted for session type")
)
