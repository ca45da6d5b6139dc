package bridge

import (
	"sync"

	"github.com/tomyedwab/dbbridge/driver"
)

// CallbackFunc is a foreign function called with the identity the caller
// registered it under.
type CallbackFunc func(id uint64)

// foreignReopenCallback owns the foreign state behind a reopen registration.
// destroy runs once when the driver releases the registration, however many
// times notify ran.
type foreignReopenCallback struct {
	id      uint64
	notify  CallbackFunc
	destroy CallbackFunc
	once    sync.Once
}

func (c *foreignReopenCallback) Reopened() {
	c.notify(c.id)
}

func (c *foreignReopenCallback) Release() {
	c.once.Do(func() {
		c.destroy(c.id)
	})
}

// SessionNew resolves the named database and opens a session on it. On
// failure it returns NullHandle and sets the last error. The database manager
// and options are borrowed.
func (b *Bridge) SessionNew(databases Handle, name string, sessionType driver.SessionType, options Handle) Handle {
	manager := Borrow[*driver.DatabaseManager](b.handles, databases)
	opts := b.options(options)
	ctx, cancel := b.operationContext()
	defer cancel()

	db, err := manager.Get(ctx, name)
	if err != nil {
		return b.TryRelease(nil, err)
	}
	return b.TryRelease(driver.NewSession(ctx, db, sessionType, opts))
}

// SessionClose closes the session and frees its handle.
func (b *Bridge) SessionClose(h Handle) {
	if h == NullHandle {
		return
	}
	Take[*driver.Session](b.handles, h).Close()
}

func (b *Bridge) SessionIsOpen(h Handle) bool {
	return Borrow[*driver.Session](b.handles, h).IsOpen()
}

// SessionForceClose closes the session, setting the last error if the server
// teardown failed. The handle stays valid and must still be freed with
// SessionClose.
func (b *Bridge) SessionForceClose(h Handle) {
	b.unwrapVoid(Borrow[*driver.Session](b.handles, h).ForceClose())
}

// SessionGetDatabaseName returns the database name as an owned string.
func (b *Bridge) SessionGetDatabaseName(h Handle) Handle {
	return b.ReleaseString(Borrow[*driver.Session](b.handles, h).DatabaseName())
}

// SessionOnClose calls notify with id when the session closes.
func (b *Bridge) SessionOnClose(h Handle, id uint64, notify CallbackFunc) {
	Borrow[*driver.Session](b.handles, h).OnClose(func() { notify(id) })
}

// SessionOnReopen calls notify with id after every reopen, and destroy with
// id exactly once when the registration is discarded.
func (b *Bridge) SessionOnReopen(h Handle, id uint64, notify, destroy CallbackFunc) {
	Borrow[*driver.Session](b.handles, h).OnReopen(&foreignReopenCallback{
		id:      id,
		notify:  notify,
		destroy: destroy,
	})
}
