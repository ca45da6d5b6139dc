package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is a scope of work against one database. It stays open across
// server-side invalidation by transparently reopening, and is closed exactly
// once: explicitly, by force, or by the server when reopening fails.
//
// Callbacks may run on the session's monitor goroutine.
type Session struct {
	id          uuid.UUID
	database    *Database
	sessionType SessionType
	options     Options
	transport   Transport
	config      Config
	logger      *slog.Logger

	// mu guards token. A reopen holds it for writing until the new server
	// session is usable; operations that use the token hold it for reading.
	mu    sync.RWMutex
	token string

	txMu         sync.Mutex
	transactions map[*Transaction]struct{} // nil once closed

	recoverMu sync.Mutex
	closing   atomic.Bool // terminal transition claimed
	open      atomic.Bool
	callbacks *callbackRegistry

	lifetime context.Context
	cancel   context.CancelFunc
}

// NewSession opens a session of the given type on db. On failure nothing is
// left open.
func NewSession(ctx context.Context, db *Database, sessionType SessionType, opts Options) (*Session, error) {
	m := db.manager
	token, err := m.transport.OpenSession(ctx, db.name, sessionType, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s session on %q: %w", sessionType, db.name, err)
	}

	id := uuid.New()
	logger := m.config.Logger.With("component", "Session", "session_id", id.String(), "database", db.name)
	lifetime, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		database:     db,
		sessionType:  sessionType,
		options:      opts,
		transport:    m.transport,
		config:       m.config,
		logger:       logger,
		token:        token,
		transactions: make(map[*Transaction]struct{}),
		callbacks:    newCallbackRegistry(logger),
		lifetime:     lifetime,
		cancel:       cancel,
	}
	s.open.Store(true)

	go s.monitor(lifetime)

	s.record(EventSessionOpen, "", sessionType.String())
	logger.Info("Session opened", "type", sessionType.String())
	return s, nil
}

// ID returns the logical identity of the session. It does not change when
// the session is reopened.
func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) DatabaseName() string {
	return s.database.name
}

func (s *Session) Type() SessionType {
	return s.sessionType
}

func (s *Session) Options() Options {
	return s.options
}

// IsOpen reports whether the session is usable. Once false it stays false.
func (s *Session) IsOpen() bool {
	return s.open.Load()
}

// OnClose registers fn to run when the session closes. Registering on a
// closed session runs fn immediately.
func (s *Session) OnClose(fn func()) CallbackID {
	return s.callbacks.addClose(fn)
}

func (s *Session) RemoveOnClose(id CallbackID) bool {
	return s.callbacks.removeClose(id)
}

// OnReopen registers cb to be notified after every successful reopen. See
// ReopenCallback for how registrations owning resources are released.
func (s *Session) OnReopen(cb ReopenCallback) CallbackID {
	return s.callbacks.addReopen(cb)
}

// RemoveOnReopen discards a reopen registration, releasing it.
func (s *Session) RemoveOnReopen(id CallbackID) bool {
	return s.callbacks.removeReopen(id)
}

// Close closes the session. It never fails and closing a closed session does
// nothing. Teardown errors from the server are logged.
func (s *Session) Close() {
	if err := s.terminate(context.Background(), EventSessionClose, true, ""); err != nil {
		s.logger.Warn("Error closing session on server", "error", err)
	}
}

// ForceClose closes the session and reports a failed server-side teardown.
// The session is closed either way.
func (s *Session) ForceClose() error {
	if err := s.terminate(context.Background(), EventSessionForceClose, true, ""); err != nil {
		return fmt.Errorf("%w: %w", ErrForceCloseFailed, err)
	}
	return nil
}

// Transaction opens a transaction in the session. It waits for an in-flight
// reopen to finish.
func (s *Session) Transaction(ctx context.Context, txType TransactionType, opts Options) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closing.Load() {
		return nil, ErrSessionClosed
	}
	txID, err := s.transport.OpenTransaction(ctx, s.token, txType, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s transaction: %w", txType, err)
	}

	tx := newTransaction(s, txID, txType, opts)
	s.txMu.Lock()
	if s.transactions == nil {
		s.txMu.Unlock()
		tx.invalidate("session closed")
		return nil, ErrSessionClosed
	}
	s.transactions[tx] = struct{}{}
	s.txMu.Unlock()

	s.record(EventTransactionOpen, txID, txType.String())
	return tx, nil
}

// Invalidate tells the session that the server no longer knows it, for
// transports that detect this outside of pulses. The session reopens; if it
// cannot, it closes. Closing the session cancels an Invalidate in progress.
func (s *Session) Invalidate(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	return s.handleInvalidation(ctx, s.currentToken())
}

func (s *Session) currentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// monitor pulses the server and recovers the session when the server reports
// it invalidated.
func (s *Session) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.config.PulseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		token := s.currentToken()
		err := s.transport.PulseSession(ctx, token)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrSessionInvalidated):
			s.logger.Warn("Session invalidated by server, reopening")
			if err := s.handleInvalidation(ctx, token); err != nil {
				s.logger.Debug("Session recovery ended", "error", err)
			}
		default:
			s.logger.Warn("Session pulse failed", "error", err)
		}
	}
}

// handleInvalidation reopens the session whose server token staleToken was
// invalidated. A failed reopen is promoted to a server-initiated close. Reopen
// callbacks run after recovery has finished, so they may invalidate again.
func (s *Session) handleInvalidation(ctx context.Context, staleToken string) error {
	reopened, err := s.reopenIfStale(ctx, staleToken)
	if reopened {
		s.callbacks.fireReopen()
	}
	return err
}

func (s *Session) reopenIfStale(ctx context.Context, staleToken string) (bool, error) {
	s.recoverMu.Lock()
	defer s.recoverMu.Unlock()

	if s.closing.Load() {
		return false, ErrSessionClosed
	}
	if s.currentToken() != staleToken {
		// already reopened by a concurrent recovery
		return false, nil
	}

	err := s.reopen(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrSessionClosed) || s.closing.Load():
		return false, ErrSessionClosed
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// abandoned by the caller; the monitor tries again on its next pulse
		return false, err
	}

	s.logger.Error("Session could not be reopened, closing", "error", err)
	if closeErr := s.terminate(context.Background(), EventSessionServerClose, false, err.Error()); closeErr != nil {
		s.logger.Warn("Error closing session", "error", closeErr)
	}
	return false, fmt.Errorf("%w: %w", ErrReopenFailed, err)
}

func (s *Session) reopen(ctx context.Context) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	token, err := retryWithBackoff(ctx, s.config.ReopenAttempts, s.config.ReopenBackoffInitial, s.config.ReopenBackoffMax, func() (string, error) {
		return s.transport.OpenSession(ctx, s.database.name, s.sessionType, s.options)
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.token = token
	if s.closing.Load() {
		// closing was claimed after the check above, so terminate is
		// waiting for mu and tears down the new token.
		s.mu.Unlock()
		return ErrSessionClosed
	}
	stale := s.detachTransactions(true)
	s.mu.Unlock()

	// The server dropped their state along with the old session.
	for _, tx := range stale {
		tx.invalidate("session reopened")
	}

	s.record(EventSessionReopen, "", "")
	s.logger.Info("Session reopened")
	return nil
}

// terminate performs the terminal transition once. Later calls return nil.
func (s *Session) terminate(ctx context.Context, event EventType, closeRemote bool, detail string) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	if event != EventSessionServerClose {
		s.open.Store(false)
	}

	// Waits for a cancelled reopen to let go of the token.
	s.mu.Lock()
	token := s.token
	txs := s.detachTransactions(false)
	s.mu.Unlock()

	for _, tx := range txs {
		tx.invalidate("session closed")
	}

	var err error
	if closeRemote {
		err = s.transport.CloseSession(ctx, token)
	}
	if err != nil && detail == "" {
		detail = err.Error()
	}
	s.record(event, "", detail)

	// Server-initiated closes notify before the session is observably closed.
	s.callbacks.close()
	s.open.Store(false)
	s.logger.Info("Session closed", "event", string(event))
	return err
}

// detachTransactions takes the open transactions out of the session. With
// replace the session keeps accepting new ones.
func (s *Session) detachTransactions(replace bool) []*Transaction {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	txs := make([]*Transaction, 0, len(s.transactions))
	for tx := range s.transactions {
		txs = append(txs, tx)
	}
	if replace {
		s.transactions = make(map[*Transaction]struct{})
	} else {
		s.transactions = nil
	}
	return txs
}

func (s *Session) forget(tx *Transaction) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.transactions != nil {
		delete(s.transactions, tx)
	}
}

func (s *Session) record(event EventType, txID string, detail string) {
	err := s.config.Recorder.RecordEvent(Event{
		Type:          event,
		SessionID:     s.id,
		Database:      s.database.name,
		TransactionID: txID,
		Detail:        detail,
	})
	if err != nil {
		s.logger.Warn("Failed to record session event", "event", string(event), "error", err)
	}
}
