package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestTransaction(t *testing.T, s *Session, txType TransactionType) *Transaction {
	t.Helper()
	tx, err := s.Transaction(context.Background(), txType, NewOptions(WithTransactionTimeout(0)))
	require.NoError(t, err)
	require.True(t, tx.IsOpen())
	return tx
}

func TestCommitClosesTransaction(t *testing.T) {
	ft := newFakeTransport("social")
	s := openTestSession(t, ft, testConfig())
	tx := openTestTransaction(t, s, WriteTransaction)

	closed := 0
	tx.OnClose(func() { closed++ })

	require.NoError(t, tx.Commit(context.Background()))
	assert.False(t, tx.IsOpen())
	assert.Equal(t, 1, closed)
	assert.Equal(t, []string{tx.ID()}, ft.committed)
	assert.Empty(t, ft.closedTxs)

	assert.ErrorIs(t, tx.Commit(context.Background()), ErrTransactionClosed)
	assert.ErrorIs(t, tx.Rollback(context.Background()), ErrTransactionClosed)
}

func TestRollbackKeepsTransactionOpen(t *testing.T) {
	ft := newFakeTransport("social")
	s := openTestSession(t, ft, testConfig())
	tx := openTestTransaction(t, s, WriteTransaction)

	require.NoError(t, tx.Rollback(context.Background()))
	assert.True(t, tx.IsOpen())
	assert.Equal(t, []string{tx.ID()}, ft.rolledBack)

	tx.Close()
	assert.False(t, tx.IsOpen())
	assert.Equal(t, []string{tx.ID()}, ft.closedTxs)
}

func TestTransactionForceCloseSurfacesError(t *testing.T) {
	ft := newFakeTransport("social")
	s := openTestSession(t, ft, testConfig())
	tx := openTestTransaction(t, s, ReadTransaction)

	boom := errors.New("teardown failed")
	ft.txCloseErr = boom
	err := tx.ForceClose()
	assert.ErrorIs(t, err, ErrForceCloseFailed)
	assert.ErrorIs(t, err, boom)
	assert.False(t, tx.IsOpen())
	assert.NoError(t, tx.ForceClose())
}

func TestSessionCloseClosesTransactions(t *testing.T) {
	ft := newFakeTransport("social")
	s := openTestSession(t, ft, testConfig())
	first := openTestTransaction(t, s, ReadTransaction)
	second := openTestTransaction(t, s, WriteTransaction)

	closed := 0
	first.OnClose(func() { closed++ })
	second.OnClose(func() { closed++ })

	s.Close()
	assert.False(t, first.IsOpen())
	assert.False(t, second.IsOpen())
	assert.Equal(t, 2, closed)

	_, err := s.Transaction(context.Background(), ReadTransaction, NewOptions())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestReopenInvalidatesTransactions(t *testing.T) {
	ft := newFakeTransport("social")
	s := openTestSession(t, ft, testConfig())
	tx := openTestTransaction(t, s, WriteTransaction)

	var txOpenInCallback bool
	s.OnReopen(ReopenFunc(func() { txOpenInCallback = tx.IsOpen() }))

	ft.invalidateAll()
	require.NoError(t, s.Invalidate(context.Background()))

	assert.False(t, tx.IsOpen())
	assert.False(t, txOpenInCallback)
	assert.True(t, s.IsOpen())

	fresh := openTestTransaction(t, s, WriteTransaction)
	assert.NotEqual(t, tx.ID(), fresh.ID())
}

func TestTransactionEventsAreRecorded(t *testing.T) {
	ft := newFakeTransport("social")
	recorder := &recordingRecorder{}
	config := testConfig()
	config.Recorder = recorder
	s := openTestSession(t, ft, config)

	tx := openTestTransaction(t, s, WriteTransaction)
	require.NoError(t, tx.Rollback(context.Background()))
	require.NoError(t, tx.Commit(context.Background()))

	assert.Equal(t, []EventType{
		EventSessionOpen,
		EventTransactionOpen,
		EventTransactionRollback,
		EventTransactionCommit,
	}, recorder.types())
}
