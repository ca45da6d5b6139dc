package loopback

import (
	"context"
	"path"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/dbbridge/audit"
	"github.com/tomyedwab/dbbridge/driver"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	dbPath := path.Join(t.TempDir(), "loopback.db")
	db := sqlx.MustConnect("sqlite3", dbPath+"?_busy_timeout=5000")
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestServer(t *testing.T) *Server {
	server, err := NewServer(setupTestDB(t), Config{})
	require.NoError(t, err)
	require.NoError(t, server.CreateDatabase(context.Background(), "social"))
	return server
}

func TestCreateAndDeleteDatabase(t *testing.T) {
	ctx := context.Background()
	server := setupTestServer(t)

	assert.ErrorIs(t, server.CreateDatabase(ctx, "social"), ErrDatabaseExists)

	exists, err := server.DatabaseExists(ctx, "social")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, server.DeleteDatabase(ctx, "social"))
	exists, err = server.DatabaseExists(ctx, "social")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.ErrorIs(t, server.DeleteDatabase(ctx, "social"), driver.ErrDatabaseNotFound)
}

func TestSessionTokens(t *testing.T) {
	ctx := context.Background()
	server := setupTestServer(t)

	_, err := server.OpenSession(ctx, "missing", driver.DataSession, driver.NewOptions())
	assert.ErrorIs(t, err, driver.ErrDatabaseNotFound)

	token, err := server.OpenSession(ctx, "social", driver.DataSession, driver.NewOptions())
	require.NoError(t, err)
	require.NoError(t, server.PulseSession(ctx, token))

	assert.ErrorIs(t, server.PulseSession(ctx, token+"x"), driver.ErrSessionInvalidated)
	assert.ErrorIs(t, server.PulseSession(ctx, "not-a-token"), driver.ErrSessionInvalidated)

	require.NoError(t, server.Restart())
	assert.ErrorIs(t, server.PulseSession(ctx, token), driver.ErrSessionInvalidated)
	assert.NoError(t, server.CloseSession(ctx, token))
}

func TestCloseSessionDropsTransactions(t *testing.T) {
	ctx := context.Background()
	server := setupTestServer(t)

	token, err := server.OpenSession(ctx, "social", driver.DataSession, driver.NewOptions())
	require.NoError(t, err)
	txID, err := server.OpenTransaction(ctx, token, driver.WriteTransaction, driver.NewOptions())
	require.NoError(t, err)

	require.NoError(t, server.CloseSession(ctx, token))
	assert.ErrorIs(t, server.PulseSession(ctx, token), driver.ErrSessionInvalidated)
	assert.ErrorIs(t, server.CommitTransaction(ctx, txID), driver.ErrTransactionClosed)
}

func TestWriteRules(t *testing.T) {
	ctx := context.Background()
	server := setupTestServer(t)

	tests := []struct {
		name        string
		sessionType driver.SessionType
		txType      driver.TransactionType
		schema      bool
		wantErr     error
	}{
		{"data write in data session", driver.DataSession, driver.WriteTransaction, false, nil},
		{"schema write in schema session", driver.SchemaSession, driver.WriteTransaction, true, nil},
		{"schema write in data session", driver.DataSession, driver.WriteTransaction, true, driver.ErrSessionTypeMismatch},
		{"data write in schema session", driver.SchemaSession, driver.WriteTransaction, false, driver.ErrSessionTypeMismatch},
		{"write in read transaction", driver.DataSession, driver.ReadTransaction, false, ErrReadOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := server.OpenSession(ctx, "social", tt.sessionType, driver.NewOptions())
			require.NoError(t, err)
			txID, err := server.OpenTransaction(ctx, token, tt.txType, driver.NewOptions())
			require.NoError(t, err)

			err = server.Write(ctx, txID, tt.schema)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	server := setupTestServer(t)

	token, err := server.OpenSession(ctx, "social", driver.DataSession, driver.NewOptions())
	require.NoError(t, err)

	rolledBack, err := server.OpenTransaction(ctx, token, driver.WriteTransaction, driver.NewOptions())
	require.NoError(t, err)
	require.NoError(t, server.Write(ctx, rolledBack, false))
	require.NoError(t, server.RollbackTransaction(ctx, rolledBack))
	require.NoError(t, server.CommitTransaction(ctx, rolledBack))

	committed, err := server.OpenTransaction(ctx, token, driver.WriteTransaction, driver.NewOptions())
	require.NoError(t, err)
	require.NoError(t, server.Write(ctx, committed, false))
	require.NoError(t, server.CommitTransaction(ctx, committed))

	commits, err := server.CommitCount(ctx, "social")
	require.NoError(t, err)
	assert.Equal(t, 1, commits)
	assert.ErrorIs(t, server.CommitTransaction(ctx, committed), driver.ErrTransactionClosed)
}

func TestExpireIdleSessions(t *testing.T) {
	ctx := context.Background()
	server := setupTestServer(t)

	token, err := server.OpenSession(ctx, "social", driver.DataSession, driver.NewOptions())
	require.NoError(t, err)

	expired, err := server.ExpireIdleSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), expired)

	expired, err = server.ExpireIdleSessions(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
	assert.ErrorIs(t, server.PulseSession(ctx, token), driver.ErrSessionInvalidated)
}

// openDriverSession opens a session through the driver with a fast pulse and
// an audit trail in the same database.
func openDriverSession(t *testing.T, server *Server, recorder driver.EventRecorder) *driver.Session {
	ctx := context.Background()
	manager := driver.NewDatabaseManager(server, driver.Config{
		Recorder:             recorder,
		PulseInterval:        10 * time.Millisecond,
		ReopenAttempts:       2,
		ReopenBackoffInitial: time.Millisecond,
		ReopenBackoffMax:     5 * time.Millisecond,
	})
	db, err := manager.Get(ctx, "social")
	require.NoError(t, err)
	session, err := driver.NewSession(ctx, db, driver.DataSession, driver.NewOptions())
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func TestDriverSessionSurvivesRestart(t *testing.T) {
	db := setupTestDB(t)
	server, err := NewServer(db, Config{})
	require.NoError(t, err)
	require.NoError(t, server.CreateDatabase(context.Background(), "social"))
	auditLog, err := audit.NewLogger(db)
	require.NoError(t, err)

	session := openDriverSession(t, server, auditLog)
	tx, err := session.Transaction(context.Background(), driver.WriteTransaction, driver.NewOptions())
	require.NoError(t, err)

	var reopened atomic.Int32
	session.OnReopen(driver.ReopenFunc(func() { reopened.Add(1) }))

	require.NoError(t, server.Restart())
	require.Eventually(t, func() bool { return reopened.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.True(t, session.IsOpen())
	assert.False(t, tx.IsOpen())

	fresh, err := session.Transaction(context.Background(), driver.WriteTransaction, driver.NewOptions())
	require.NoError(t, err)
	require.NoError(t, server.Write(context.Background(), fresh.ID(), false))
	require.NoError(t, fresh.Commit(context.Background()))

	commits, err := server.CommitCount(context.Background(), "social")
	require.NoError(t, err)
	assert.Equal(t, 1, commits)

	events, err := auditLog.GetEventsByType(driver.EventSessionReopen, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, session.ID().String(), events[0].SessionID)
}

func TestDriverSessionClosesWhenDatabaseDeleted(t *testing.T) {
	server := setupTestServer(t)
	session := openDriverSession(t, server, nil)

	var closed atomic.Int32
	session.OnClose(func() { closed.Add(1) })

	require.NoError(t, server.DeleteDatabase(context.Background(), "social"))
	require.Eventually(t, func() bool { return !session.IsOpen() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), closed.Load())
}
