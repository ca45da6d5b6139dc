package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/dbbridge/answer"
	"github.com/tomyedwab/dbbridge/concept"
	"github.com/tomyedwab/dbbridge/driver"
)

type stubTransport struct {
	mu       sync.Mutex
	nextID   int
	live     map[string]bool
	closeErr error
}

func newStubTransport() *stubTransport {
	return &stubTransport{live: make(map[string]bool)}
}

func (st *stubTransport) DatabaseExists(ctx context.Context, name string) (bool, error) {
	return name == "social", nil
}

func (st *stubTransport) OpenSession(ctx context.Context, database string, sessionType driver.SessionType, opts driver.Options) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextID++
	token := fmt.Sprintf("token-%d", st.nextID)
	st.live[token] = true
	return token, nil
}

func (st *stubTransport) CloseSession(ctx context.Context, token string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.live, token)
	return st.closeErr
}

func (st *stubTransport) PulseSession(ctx context.Context, token string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.live[token] {
		return driver.ErrSessionInvalidated
	}
	return nil
}

func (st *stubTransport) OpenTransaction(ctx context.Context, sessionToken string, txType driver.TransactionType, opts driver.Options) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextID++
	return fmt.Sprintf("tx-%d", st.nextID), nil
}

func (st *stubTransport) CommitTransaction(ctx context.Context, txID string) error {
	return nil
}

func (st *stubTransport) RollbackTransaction(ctx context.Context, txID string) error {
	return nil
}

func (st *stubTransport) CloseTransaction(ctx context.Context, txID string) error {
	return nil
}

func (st *stubTransport) dropAll() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.live = make(map[string]bool)
}

// callbackLog records foreign callback invocations by identity.
type callbackLog struct {
	mu    sync.Mutex
	calls map[uint64]int
}

func newCallbackLog() *callbackLog {
	return &callbackLog{calls: make(map[uint64]int)}
}

func (l *callbackLog) fn(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[id]++
}

func (l *callbackLog) count(id uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[id]
}

func newTestBridge(t *testing.T) (*Bridge, *stubTransport, Handle) {
	t.Helper()
	b := New(Config{})
	st := newStubTransport()
	databases := b.DatabaseManagerNew(st, driver.Config{PulseInterval: time.Hour})
	t.Cleanup(func() { b.DatabaseManagerFree(databases) })
	return b, st, databases
}

func TestSessionNewUnknownDatabase(t *testing.T) {
	b, _, databases := newTestBridge(t)

	assert.False(t, b.DatabasesContains(databases, "missing"))
	assert.False(t, b.CheckError())

	h := b.SessionNew(databases, "missing", driver.DataSession, NullHandle)
	assert.Equal(t, NullHandle, h)
	require.True(t, b.CheckError())

	errHandle := b.GetLastError()
	require.NotEqual(t, NullHandle, errHandle)
	assert.False(t, b.CheckError())

	code := b.ErrorCode(errHandle)
	message := b.ErrorMessage(errHandle)
	assert.Equal(t, "resolution", b.StringView(code))
	assert.Contains(t, b.StringView(message), "database not found")
	b.FreeString(code)
	b.FreeString(message)
	b.ErrorFree(errHandle)

	assert.Equal(t, NullHandle, b.GetLastError())
	assert.Equal(t, 1, b.Handles().Len())
}

func TestSessionLifecycle(t *testing.T) {
	b, _, databases := newTestBridge(t)
	opts := b.OptionsNew()
	b.OptionsSetInfer(opts, true)
	b.OptionsSetSessionIdleTimeoutMillis(opts, 30000)

	h := b.SessionNew(databases, "social", driver.SchemaSession, opts)
	require.NotEqual(t, NullHandle, h)
	b.OptionsFree(opts)

	s := Borrow[*driver.Session](b.Handles(), h)
	require.NotNil(t, s.Options().Infer)
	assert.True(t, *s.Options().Infer)
	assert.Equal(t, 30*time.Second, *s.Options().SessionIdleTimeout)

	name := b.SessionGetDatabaseName(h)
	assert.Equal(t, "social", b.StringView(name))
	b.FreeString(name)

	assert.True(t, b.SessionIsOpen(h))
	b.SessionClose(h)
	assert.False(t, s.IsOpen())

	v := mustViolate(t, func() { b.SessionIsOpen(h) })
	assert.Equal(t, "used after release", v.Reason)
	assert.Equal(t, 1, b.Handles().Len())
}

func TestSessionForceCloseReportsTeardownError(t *testing.T) {
	b, st, databases := newTestBridge(t)
	h := b.SessionNew(databases, "social", driver.DataSession, NullHandle)
	require.NotEqual(t, NullHandle, h)

	st.closeErr = errors.New("connection reset")
	b.SessionForceClose(h)
	assert.False(t, b.SessionIsOpen(h))

	e := b.LastError()
	require.NotNil(t, e)
	assert.Equal(t, ErrorKindTeardown, e.Kind)
	assert.ErrorIs(t, e, driver.ErrForceCloseFailed)

	b.SessionClose(h)
	assert.False(t, b.CheckError())
}

func TestSessionCallbacksAcrossBoundary(t *testing.T) {
	b, st, databases := newTestBridge(t)
	h := b.SessionNew(databases, "social", driver.DataSession, NullHandle)
	require.NotEqual(t, NullHandle, h)

	closes := newCallbackLog()
	reopens := newCallbackLog()
	destroys := newCallbackLog()

	b.SessionOnClose(h, 1, closes.fn)
	b.SessionOnReopen(h, 2, reopens.fn, destroys.fn)
	b.SessionOnReopen(h, 3, reopens.fn, destroys.fn)

	st.dropAll()
	require.NoError(t, Borrow[*driver.Session](b.Handles(), h).Invalidate(context.Background()))
	assert.True(t, b.SessionIsOpen(h))
	assert.Equal(t, 1, reopens.count(2))
	assert.Equal(t, 1, reopens.count(3))
	assert.Equal(t, 0, destroys.count(2))

	b.SessionClose(h)
	assert.Equal(t, 1, closes.count(1))
	assert.Equal(t, 1, destroys.count(2))
	assert.Equal(t, 1, destroys.count(3))
}

func TestReopenDestroyRunsWithoutReopen(t *testing.T) {
	b, _, databases := newTestBridge(t)
	h := b.SessionNew(databases, "social", driver.DataSession, NullHandle)
	require.NotEqual(t, NullHandle, h)

	reopens := newCallbackLog()
	destroys := newCallbackLog()
	b.SessionOnReopen(h, 9, reopens.fn, destroys.fn)

	b.SessionForceClose(h)
	b.SessionClose(h)

	assert.Equal(t, 0, reopens.count(9))
	assert.Equal(t, 1, destroys.count(9))
}

func TestForeignReopenCallbackDestroysOnce(t *testing.T) {
	destroys := newCallbackLog()
	cb := &foreignReopenCallback{id: 4, notify: func(uint64) {}, destroy: destroys.fn}
	cb.Release()
	cb.Release()
	assert.Equal(t, 1, destroys.count(4))
}

func TestTransactionLifecycle(t *testing.T) {
	b, _, databases := newTestBridge(t)
	session := b.SessionNew(databases, "social", driver.DataSession, NullHandle)
	require.NotEqual(t, NullHandle, session)
	defer b.SessionClose(session)

	tx := b.TransactionNew(session, driver.WriteTransaction, NullHandle)
	require.NotEqual(t, NullHandle, tx)
	closes := newCallbackLog()
	b.TransactionOnClose(tx, 5, closes.fn)

	b.TransactionRollback(tx)
	assert.True(t, b.TransactionIsOpen(tx))
	assert.False(t, b.CheckError())

	b.TransactionCommit(tx)
	assert.False(t, b.CheckError())
	assert.Equal(t, 1, closes.count(5))
	mustViolate(t, func() { b.TransactionIsOpen(tx) })

	other := b.TransactionNew(session, driver.ReadTransaction, NullHandle)
	require.NotEqual(t, NullHandle, other)
	b.SessionForceClose(session)
	assert.False(t, b.TransactionIsOpen(other))
	b.TransactionClose(other)

	assert.Equal(t, NullHandle, b.TransactionNew(session, driver.ReadTransaction, NullHandle))
	assert.Equal(t, ErrorKindClosed, b.LastError().Kind)
}

func TestConceptDocumentAcrossBoundary(t *testing.T) {
	b := New(Config{})
	header := &answer.ConceptDocumentHeader{QueryType: answer.QueryTypeRead}
	doc := answer.NewConceptDocument(header, answer.MapNode{
		"kind": answer.NewLeafNode(answer.KindLeaf(concept.KindEntity)),
	})

	h := b.Release(doc)
	text := b.ConceptDocumentToJSON(h)
	assert.JSONEq(t, `{"kind":"entity"}`, b.StringView(text))
	b.FreeString(text)

	yamlText := b.ConceptDocumentToYAML(h)
	assert.Contains(t, b.StringView(yamlText), "kind: entity")
	b.FreeString(yamlText)
	b.ConceptDocumentFree(h)

	bad := b.Release(answer.NewConceptDocument(header, answer.NewLeafNode(answer.ConceptLeaf(concept.Entity{IID: []byte{1}}))))
	assert.Equal(t, NullHandle, b.ConceptDocumentToJSON(bad))
	assert.Equal(t, ErrorKindEncoding, b.LastError().Kind)
	b.ConceptDocumentFree(bad)

	nan := b.Release(answer.NewConceptDocument(header, answer.NewLeafNode(answer.ConceptLeaf(concept.NewDouble(math.NaN())))))
	nanText := b.ConceptDocumentToJSON(nan)
	require.NotEqual(t, NullHandle, nanText)
	assert.JSONEq(t, `{"value_type":"double","value":"NaN"}`, b.StringView(nanText))
	assert.False(t, b.CheckError())
	b.FreeString(nanText)
	b.ConceptDocumentFree(nan)
	assert.Equal(t, 0, b.Handles().Len())
}
