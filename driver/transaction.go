package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Transaction is a unit of work inside a session. Its lifecycle mirrors the
// session's: it closes exactly once, explicitly, by force, by commit, or when
// its session closes or reopens.
type Transaction struct {
	id      string
	session *Session
	txType  TransactionType
	options Options
	logger  *slog.Logger

	closing   atomic.Bool
	open      atomic.Bool
	callbacks *callbackRegistry
}

func newTransaction(s *Session, id string, txType TransactionType, opts Options) *Transaction {
	logger := s.logger.With("transaction_id", id)
	tx := &Transaction{
		id:        id,
		session:   s,
		txType:    txType,
		options:   opts,
		logger:    logger,
		callbacks: newCallbackRegistry(logger),
	}
	tx.open.Store(true)
	return tx
}

// ID returns the server-side transaction identifier.
func (t *Transaction) ID() string {
	return t.id
}

func (t *Transaction) Type() TransactionType {
	return t.txType
}

func (t *Transaction) Options() Options {
	return t.options
}

func (t *Transaction) Session() *Session {
	return t.session
}

func (t *Transaction) IsOpen() bool {
	return t.open.Load()
}

// OnClose registers fn to run when the transaction closes. Registering on a
// closed transaction runs fn immediately.
func (t *Transaction) OnClose(fn func()) CallbackID {
	return t.callbacks.addClose(fn)
}

func (t *Transaction) RemoveOnClose(id CallbackID) bool {
	return t.callbacks.removeClose(id)
}

// Close closes the transaction, discarding uncommitted work. It never fails.
func (t *Transaction) Close() {
	if err := t.terminate(context.Background(), EventTransactionClose, true, ""); err != nil {
		t.logger.Warn("Error closing transaction on server", "error", err)
	}
}

// ForceClose closes the transaction and reports a failed server-side
// teardown. The transaction is closed either way.
func (t *Transaction) ForceClose() error {
	if err := t.terminate(context.Background(), EventTransactionClose, true, "forced"); err != nil {
		return fmt.Errorf("%w: %w", ErrForceCloseFailed, err)
	}
	return nil
}

// Commit commits the transaction. The transaction is closed afterwards even
// if the commit failed, since the server ends it either way.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.closing.Load() {
		return ErrTransactionClosed
	}
	err := t.session.transport.CommitTransaction(ctx, t.id)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	if closeErr := t.terminate(ctx, EventTransactionCommit, false, detail); closeErr != nil {
		t.logger.Warn("Error closing committed transaction", "error", closeErr)
	}
	if err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", t.id, err)
	}
	return nil
}

// Rollback discards the uncommitted work. The transaction stays open.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.closing.Load() {
		return ErrTransactionClosed
	}
	if err := t.session.transport.RollbackTransaction(ctx, t.id); err != nil {
		return fmt.Errorf("failed to roll back transaction %s: %w", t.id, err)
	}
	t.session.record(EventTransactionRollback, t.id, "")
	return nil
}

// invalidate closes the transaction without contacting the server, whose
// state for it is already gone.
func (t *Transaction) invalidate(reason string) {
	_ = t.terminate(context.Background(), EventTransactionClose, false, reason)
}

func (t *Transaction) terminate(ctx context.Context, event EventType, closeRemote bool, detail string) error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}
	t.open.Store(false)
	t.session.forget(t)

	var err error
	if closeRemote {
		err = t.session.transport.CloseTransaction(ctx, t.id)
	}
	if err != nil && detail == "" {
		detail = err.Error()
	}
	t.session.record(event, t.id, detail)
	t.callbacks.close()
	return err
}
