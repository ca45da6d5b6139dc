// Package bridge exposes driver resources to a foreign caller through opaque
// handles. Constructors hand ownership of the new resource to the caller,
// who must release it exactly once; failures are signalled by NullHandle and
// detailed through the error side channel (CheckError, GetLastError).
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tomyedwab/dbbridge/driver"
)

const defaultOperationTimeout = 30 * time.Second

// Config holds the bridge settings.
type Config struct {
	Logger           *slog.Logger  // Optional, defaults to slog.Default()
	OperationTimeout time.Duration // Optional, defaults to 30s
}

// Bridge is one boundary between the driver and a foreign caller. It owns a
// handle table and keeps the last error of its operations.
type Bridge struct {
	handles *Table
	logger  *slog.Logger
	timeout time.Duration

	errMu   sync.Mutex
	lastErr *Error
}

func New(config Config) *Bridge {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.OperationTimeout == 0 {
		config.OperationTimeout = defaultOperationTimeout
	}
	return &Bridge{
		handles: NewTable(),
		logger:  config.Logger.With("component", "Bridge"),
		timeout: config.OperationTimeout,
	}
}

// Handles returns the table owning the bridge's resources.
func (b *Bridge) Handles() *Table {
	return b.handles
}

// Release hands ownership of v to the caller.
func (b *Bridge) Release(v any) Handle {
	return b.handles.Release(v)
}

func (b *Bridge) operationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

type ownedString string

// ReleaseString hands ownership of s to the caller, who frees it with
// FreeString.
func (b *Bridge) ReleaseString(s string) Handle {
	return b.handles.Release(ownedString(s))
}

func (b *Bridge) StringView(h Handle) string {
	return string(Borrow[ownedString](b.handles, h))
}

func (b *Bridge) FreeString(h Handle) {
	if h == NullHandle {
		return
	}
	Take[ownedString](b.handles, h)
}

// DatabaseManagerNew creates a database manager over transport.
func (b *Bridge) DatabaseManagerNew(transport driver.Transport, config driver.Config) Handle {
	return b.handles.Release(driver.NewDatabaseManager(transport, config))
}

func (b *Bridge) DatabaseManagerFree(h Handle) {
	if h == NullHandle {
		return
	}
	Take[*driver.DatabaseManager](b.handles, h)
}

// DatabasesContains reports whether the named database exists. A lookup
// failure reports false and sets the last error.
func (b *Bridge) DatabasesContains(databases Handle, name string) bool {
	manager := Borrow[*driver.DatabaseManager](b.handles, databases)
	ctx, cancel := b.operationContext()
	defer cancel()

	ok, err := manager.Contains(ctx, name)
	if err != nil {
		b.setError(err)
		return false
	}
	return ok
}

// OptionsNew creates an empty option set. Option sets are copied by the
// constructors that take them and stay owned by the caller.
func (b *Bridge) OptionsNew() Handle {
	return b.handles.Release(&driver.Options{})
}

func (b *Bridge) OptionsFree(h Handle) {
	if h == NullHandle {
		return
	}
	Take[*driver.Options](b.handles, h)
}

func (b *Bridge) setOption(h Handle, opt driver.Option) {
	opts, done := BorrowMut[*driver.Options](b.handles, h)
	defer done()
	opt(opts)
}

func (b *Bridge) OptionsSetInfer(h Handle, enabled bool) {
	b.setOption(h, driver.WithInfer(enabled))
}

func (b *Bridge) OptionsSetTraceInference(h Handle, enabled bool) {
	b.setOption(h, driver.WithTraceInference(enabled))
}

func (b *Bridge) OptionsSetExplain(h Handle, enabled bool) {
	b.setOption(h, driver.WithExplain(enabled))
}

func (b *Bridge) OptionsSetParallel(h Handle, enabled bool) {
	b.setOption(h, driver.WithParallel(enabled))
}

func (b *Bridge) OptionsSetPrefetch(h Handle, enabled bool) {
	b.setOption(h, driver.WithPrefetch(enabled))
}

func (b *Bridge) OptionsSetPrefetchSize(h Handle, size int) {
	b.setOption(h, driver.WithPrefetchSize(size))
}

func (b *Bridge) OptionsSetSessionIdleTimeoutMillis(h Handle, millis int64) {
	b.setOption(h, driver.WithSessionIdleTimeout(time.Duration(millis)*time.Millisecond))
}

func (b *Bridge) OptionsSetTransactionTimeoutMillis(h Handle, millis int64) {
	b.setOption(h, driver.WithTransactionTimeout(time.Duration(millis)*time.Millisecond))
}

func (b *Bridge) OptionsSetSchemaLockAcquireTimeoutMillis(h Handle, millis int64) {
	b.setOption(h, driver.WithSchemaLockAcquireTimeout(time.Duration(millis)*time.Millisecond))
}

func (b *Bridge) OptionsSetReadAnyReplica(h Handle, enabled bool) {
	b.setOption(h, driver.WithReadAnyReplica(enabled))
}

// options copies the option set behind h. NullHandle means the defaults.
func (b *Bridge) options(h Handle) driver.Options {
	if h == NullHandle {
		return driver.Options{}
	}
	return *Borrow[*driver.Options](b.handles, h)
}
