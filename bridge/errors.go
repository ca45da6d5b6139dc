package bridge

import (
	"errors"

	"github.com/tomyedwab/dbbridge/answer"
	"github.com/tomyedwab/dbbridge/driver"
)

// ErrorKind classifies a failure reported through the error side channel.
type ErrorKind string

const (
	ErrorKindResolution ErrorKind = "resolution" // the named database does not exist
	ErrorKindTeardown   ErrorKind = "teardown"   // a forced close failed on the server
	ErrorKindClosed     ErrorKind = "closed"     // the session or transaction is already closed
	ErrorKindUsage      ErrorKind = "usage"      // the operation is not allowed for this session type
	ErrorKindEncoding   ErrorKind = "encoding"   // a document holds a concept that cannot be encoded
	ErrorKindTransport  ErrorKind = "transport"
)

// Error is the last failure of a boundary operation.
type Error struct {
	Kind    ErrorKind
	Message string
	err     error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

func classify(err error) ErrorKind {
	var cv *answer.ContractViolation
	switch {
	case errors.As(err, &cv):
		return ErrorKindEncoding
	case errors.Is(err, driver.ErrDatabaseNotFound):
		return ErrorKindResolution
	case errors.Is(err, driver.ErrForceCloseFailed):
		return ErrorKindTeardown
	case errors.Is(err, driver.ErrSessionClosed), errors.Is(err, driver.ErrTransactionClosed):
		return ErrorKindClosed
	case errors.Is(err, driver.ErrSessionTypeMismatch):
		return ErrorKindUsage
	default:
		return ErrorKindTransport
	}
}

// setError records err as the last error, replacing any unread one.
func (b *Bridge) setError(err error) {
	e := &Error{Kind: classify(err), Message: err.Error(), err: err}
	b.logger.Debug("Boundary operation failed", "kind", string(e.Kind), "error", err)

	b.errMu.Lock()
	b.lastErr = e
	b.errMu.Unlock()
}

// unwrapVoid records err, if any, for operations without a result.
func (b *Bridge) unwrapVoid(err error) {
	if err != nil {
		b.setError(err)
	}
}

// TryRelease releases v, or records err and returns NullHandle.
func (b *Bridge) TryRelease(v any, err error) Handle {
	if err != nil {
		b.setError(err)
		return NullHandle
	}
	return b.handles.Release(v)
}

// CheckError reports whether an error is waiting to be read.
func (b *Bridge) CheckError() bool {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.lastErr != nil
}

// LastError returns and clears the last error. It returns nil when there is
// none.
func (b *Bridge) LastError() *Error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	e := b.lastErr
	b.lastErr = nil
	return e
}

// GetLastError moves the last error into the table. It returns NullHandle
// when there is none.
func (b *Bridge) GetLastError() Handle {
	e := b.LastError()
	if e == nil {
		return NullHandle
	}
	return b.handles.Release(e)
}

// ErrorCode returns the kind of the error behind h as an owned string.
func (b *Bridge) ErrorCode(h Handle) Handle {
	return b.ReleaseString(string(Borrow[*Error](b.handles, h).Kind))
}

// ErrorMessage returns the message of the error behind h as an owned string.
func (b *Bridge) ErrorMessage(h Handle) Handle {
	return b.ReleaseString(Borrow[*Error](b.handles, h).Message)
}

func (b *Bridge) ErrorFree(h Handle) {
	Take[*Error](b.handles, h)
}
