package bridge

import (
	"github.com/tomyedwab/dbbridge/driver"
)

// TransactionNew opens a transaction in the session. On failure it returns
// NullHandle and sets the last error.
func (b *Bridge) TransactionNew(session Handle, txType driver.TransactionType, options Handle) Handle {
	s := Borrow[*driver.Session](b.handles, session)
	opts := b.options(options)
	ctx, cancel := b.operationContext()
	defer cancel()

	return b.TryRelease(s.Transaction(ctx, txType, opts))
}

// TransactionClose closes the transaction and frees its handle.
func (b *Bridge) TransactionClose(h Handle) {
	if h == NullHandle {
		return
	}
	Take[*driver.Transaction](b.handles, h).Close()
}

func (b *Bridge) TransactionIsOpen(h Handle) bool {
	return Borrow[*driver.Transaction](b.handles, h).IsOpen()
}

// TransactionForceClose closes the transaction, setting the last error if the
// server teardown failed. The handle must still be freed.
func (b *Bridge) TransactionForceClose(h Handle) {
	b.unwrapVoid(Borrow[*driver.Transaction](b.handles, h).ForceClose())
}

// TransactionCommit commits and consumes the transaction: the handle is freed
// whether or not the commit succeeded.
func (b *Bridge) TransactionCommit(h Handle) {
	tx := Take[*driver.Transaction](b.handles, h)
	ctx, cancel := b.operationContext()
	defer cancel()

	b.unwrapVoid(tx.Commit(ctx))
}

// TransactionRollback discards uncommitted work. The transaction stays open.
func (b *Bridge) TransactionRollback(h Handle) {
	tx := Borrow[*driver.Transaction](b.handles, h)
	ctx, cancel := b.operationContext()
	defer cancel()

	b.unwrapVoid(tx.Rollback(ctx))
}

func (b *Bridge) TransactionOnClose(h Handle, id uint64, notify CallbackFunc) {
	Borrow[*driver.Transaction](b.handles, h).OnClose(func() { notify(id) })
}
