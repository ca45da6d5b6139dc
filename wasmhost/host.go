// Package wasmhost exposes the bridge to WebAssembly guests as the host
// module "dbbridge".
//
// Handles and owned strings cross as i64. Guest strings are passed as a
// pointer and length into guest memory. Session callbacks are delivered by
// calling the guest exports dbbridge_callback(id) and
// dbbridge_callback_destroy(id); the guest is never entered concurrently, so
// callbacks raised outside a guest call wait for the next import or Dispatch.
package wasmhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/tomyedwab/dbbridge/bridge"
	"github.com/tomyedwab/dbbridge/driver"
)

const (
	ModuleName = "dbbridge"

	CallbackExport        = "dbbridge_callback"
	CallbackDestroyExport = "dbbridge_callback_destroy"
	RunExport             = "run"
)

// Config holds the host settings.
type Config struct {
	Logger *slog.Logger // Optional, defaults to slog.Default()
}

// Host serves one guest module.
type Host struct {
	bridge    *bridge.Bridge
	databases bridge.Handle
	logger    *slog.Logger

	// execMu serializes guest execution started by the host.
	execMu sync.Mutex
	guest  api.Module

	queueMu sync.Mutex
	queue   []pendingCallback
}

type pendingCallback struct {
	export string
	id     uint64
}

// New creates a host whose guests open sessions through the database
// manager behind databases. The host borrows both.
func New(b *bridge.Bridge, databases bridge.Handle, config Config) *Host {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Host{
		bridge:    b,
		databases: databases,
		logger:    config.Logger.With("component", "WasmHost"),
	}
}

// Instantiate registers the host module in r. It must run before the guest
// is instantiated.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	return r.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().WithFunc(h.databasesContains).Export("databases_contains").
		NewFunctionBuilder().WithFunc(h.sessionNew).Export("session_new").
		NewFunctionBuilder().WithFunc(h.sessionClose).Export("session_close").
		NewFunctionBuilder().WithFunc(h.sessionForceClose).Export("session_force_close").
		NewFunctionBuilder().WithFunc(h.sessionIsOpen).Export("session_is_open").
		NewFunctionBuilder().WithFunc(h.sessionGetDatabaseName).Export("session_get_database_name").
		NewFunctionBuilder().WithFunc(h.sessionOnClose).Export("session_on_close").
		NewFunctionBuilder().WithFunc(h.sessionOnReopen).Export("session_on_reopen").
		NewFunctionBuilder().WithFunc(h.transactionNew).Export("transaction_new").
		NewFunctionBuilder().WithFunc(h.transactionClose).Export("transaction_close").
		NewFunctionBuilder().WithFunc(h.transactionForceClose).Export("transaction_force_close").
		NewFunctionBuilder().WithFunc(h.transactionIsOpen).Export("transaction_is_open").
		NewFunctionBuilder().WithFunc(h.transactionCommit).Export("transaction_commit").
		NewFunctionBuilder().WithFunc(h.transactionRollback).Export("transaction_rollback").
		NewFunctionBuilder().WithFunc(h.stringLen).Export("string_len").
		NewFunctionBuilder().WithFunc(h.stringCopy).Export("string_copy").
		NewFunctionBuilder().WithFunc(h.stringFree).Export("string_free").
		NewFunctionBuilder().WithFunc(h.checkError).Export("check_error").
		NewFunctionBuilder().WithFunc(h.errorMessage).Export("error_message").
		NewFunctionBuilder().WithFunc(h.getLastError).Export("get_last_error").
		NewFunctionBuilder().WithFunc(h.errorCode).Export("error_code").
		NewFunctionBuilder().WithFunc(h.errorGetMessage).Export("error_get_message").
		NewFunctionBuilder().WithFunc(h.errorFree).Export("error_free").
		NewFunctionBuilder().WithFunc(h.optionsNew).Export("options_new").
		NewFunctionBuilder().WithFunc(h.optionsFree).Export("options_free").
		NewFunctionBuilder().WithFunc(h.optionsSetInfer).Export("options_set_infer").
		NewFunctionBuilder().WithFunc(h.optionsSetTraceInference).Export("options_set_trace_inference").
		NewFunctionBuilder().WithFunc(h.optionsSetExplain).Export("options_set_explain").
		NewFunctionBuilder().WithFunc(h.optionsSetParallel).Export("options_set_parallel").
		NewFunctionBuilder().WithFunc(h.optionsSetPrefetch).Export("options_set_prefetch").
		NewFunctionBuilder().WithFunc(h.optionsSetPrefetchSize).Export("options_set_prefetch_size").
		NewFunctionBuilder().WithFunc(h.optionsSetSessionIdleTimeout).Export("options_set_session_idle_timeout_millis").
		NewFunctionBuilder().WithFunc(h.optionsSetTransactionTimeout).Export("options_set_transaction_timeout_millis").
		NewFunctionBuilder().WithFunc(h.optionsSetSchemaLockAcquireTimeout).Export("options_set_schema_lock_acquire_timeout_millis").
		NewFunctionBuilder().WithFunc(h.optionsSetReadAnyReplica).Export("options_set_read_any_replica").
		NewFunctionBuilder().WithFunc(h.conceptDocumentToJSON).Export("concept_document_to_json").
		NewFunctionBuilder().WithFunc(h.conceptDocumentToYAML).Export("concept_document_to_yaml").
		NewFunctionBuilder().WithFunc(h.conceptDocumentFree).Export("concept_document_free").
		Instantiate(ctx)
}

// Run instantiates the guest, calling its _initialize function if it has
// one, then calls its run export and delivers any callbacks still pending.
func (h *Host) Run(ctx context.Context, r wazero.Runtime, wasm []byte) error {
	guest, err := r.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithStartFunctions("_initialize"))
	if err != nil {
		return fmt.Errorf("failed to instantiate guest: %w", err)
	}
	h.Bind(guest)

	run := guest.ExportedFunction(RunExport)
	if run == nil {
		return fmt.Errorf("guest does not export %q", RunExport)
	}

	h.execMu.Lock()
	_, err = run.Call(ctx)
	h.execMu.Unlock()
	if err != nil {
		return fmt.Errorf("guest run failed: %w", err)
	}
	return h.Dispatch(ctx)
}

// Bind sets the guest that receives callbacks.
func (h *Host) Bind(guest api.Module) {
	h.execMu.Lock()
	defer h.execMu.Unlock()
	h.guest = guest
}

// Dispatch delivers pending callbacks to the bound guest from outside a
// guest call.
func (h *Host) Dispatch(ctx context.Context) error {
	h.execMu.Lock()
	defer h.execMu.Unlock()
	if h.guest == nil {
		return fmt.Errorf("no guest bound")
	}
	h.drain(ctx, h.guest)
	return nil
}

// Pending returns the number of callbacks waiting for delivery.
func (h *Host) Pending() int {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	return len(h.queue)
}

func (h *Host) enqueue(export string, id uint64) {
	h.queueMu.Lock()
	h.queue = append(h.queue, pendingCallback{export: export, id: id})
	h.queueMu.Unlock()
}

func (h *Host) pop() (pendingCallback, bool) {
	h.queueMu.Lock()
	defer h.queueMu.Unlock()
	if len(h.queue) == 0 {
		return pendingCallback{}, false
	}
	next := h.queue[0]
	h.queue = h.queue[1:]
	return next, true
}

// drain calls m for every pending callback, in the order they were raised.
// Each callback is delivered once even if the guest call fails.
func (h *Host) drain(ctx context.Context, m api.Module) {
	for {
		cb, ok := h.pop()
		if !ok {
			return
		}
		fn := m.ExportedFunction(cb.export)
		if fn == nil {
			h.logger.Warn("Guest does not export callback function", "export", cb.export, "id", cb.id)
			continue
		}
		if _, err := fn.Call(ctx, cb.id); err != nil {
			h.logger.Error("Guest callback failed", "export", cb.export, "id", cb.id, "error", err)
		}
	}
}

func (h *Host) notifier(export string) bridge.CallbackFunc {
	return func(id uint64) {
		h.enqueue(export, id)
	}
}

func sessionType(v uint32) driver.SessionType {
	switch v {
	case 0:
		return driver.DataSession
	case 1:
		return driver.SchemaSession
	default:
		panic(fmt.Sprintf("invalid session type %d", v))
	}
}

func transactionType(v uint32) driver.TransactionType {
	switch v {
	case 0:
		return driver.ReadTransaction
	case 1:
		return driver.WriteTransaction
	default:
		panic(fmt.Sprintf("invalid transaction type %d", v))
	}
}

func (h *Host) databasesContains(ctx context.Context, m api.Module, nameOffset, nameLen uint32) uint32 {
	return boolResult(h.bridge.DatabasesContains(h.databases, readString(m, nameOffset, nameLen)))
}

func (h *Host) sessionNew(ctx context.Context, m api.Module, nameOffset, nameLen, typ uint32, options uint64) uint64 {
	name := readString(m, nameOffset, nameLen)
	return uint64(h.bridge.SessionNew(h.databases, name, sessionType(typ), bridge.Handle(options)))
}

func (h *Host) sessionClose(ctx context.Context, m api.Module, session uint64) {
	defer h.drain(ctx, m)
	h.bridge.SessionClose(bridge.Handle(session))
}

func (h *Host) sessionForceClose(ctx context.Context, m api.Module, session uint64) {
	defer h.drain(ctx, m)
	h.bridge.SessionForceClose(bridge.Handle(session))
}

func (h *Host) sessionIsOpen(ctx context.Context, m api.Module, session uint64) uint32 {
	defer h.drain(ctx, m)
	return boolResult(h.bridge.SessionIsOpen(bridge.Handle(session)))
}

func (h *Host) sessionGetDatabaseName(session uint64) uint64 {
	return uint64(h.bridge.SessionGetDatabaseName(bridge.Handle(session)))
}

func (h *Host) sessionOnClose(ctx context.Context, m api.Module, session, id uint64) {
	defer h.drain(ctx, m)
	h.bridge.SessionOnClose(bridge.Handle(session), id, h.notifier(CallbackExport))
}

func (h *Host) sessionOnReopen(ctx context.Context, m api.Module, session, id uint64) {
	defer h.drain(ctx, m)
	h.bridge.SessionOnReopen(bridge.Handle(session), id, h.notifier(CallbackExport), h.notifier(CallbackDestroyExport))
}

func (h *Host) transactionNew(session uint64, typ uint32, options uint64) uint64 {
	return uint64(h.bridge.TransactionNew(bridge.Handle(session), transactionType(typ), bridge.Handle(options)))
}

func (h *Host) transactionClose(ctx context.Context, m api.Module, tx uint64) {
	defer h.drain(ctx, m)
	h.bridge.TransactionClose(bridge.Handle(tx))
}

func (h *Host) transactionForceClose(ctx context.Context, m api.Module, tx uint64) {
	defer h.drain(ctx, m)
	h.bridge.TransactionForceClose(bridge.Handle(tx))
}

func (h *Host) transactionIsOpen(tx uint64) uint32 {
	return boolResult(h.bridge.TransactionIsOpen(bridge.Handle(tx)))
}

func (h *Host) transactionCommit(ctx context.Context, m api.Module, tx uint64) {
	defer h.drain(ctx, m)
	h.bridge.TransactionCommit(bridge.Handle(tx))
}

func (h *Host) transactionRollback(tx uint64) {
	h.bridge.TransactionRollback(bridge.Handle(tx))
}

func (h *Host) stringLen(s uint64) uint32 {
	return uint32(len(h.bridge.StringView(bridge.Handle(s))))
}

func (h *Host) stringCopy(ctx context.Context, m api.Module, s uint64, offset, byteCount uint32) uint32 {
	return writeBytes(m, offset, byteCount, []byte(h.bridge.StringView(bridge.Handle(s))))
}

func (h *Host) stringFree(s uint64) {
	h.bridge.FreeString(bridge.Handle(s))
}

func (h *Host) checkError() uint32 {
	return boolResult(h.bridge.CheckError())
}

// errorMessage takes the last error and returns its message as an owned
// string, or 0 when there is none.
func (h *Host) errorMessage() uint64 {
	e := h.bridge.LastError()
	if e == nil {
		return uint64(bridge.NullHandle)
	}
	return uint64(h.bridge.ReleaseString(e.Error()))
}

// getLastError moves the last error into a handle, or returns 0.
func (h *Host) getLastError() uint64 {
	return uint64(h.bridge.GetLastError())
}

func (h *Host) errorCode(e uint64) uint64 {
	return uint64(h.bridge.ErrorCode(bridge.Handle(e)))
}

func (h *Host) errorGetMessage(e uint64) uint64 {
	return uint64(h.bridge.ErrorMessage(bridge.Handle(e)))
}

func (h *Host) errorFree(e uint64) {
	h.bridge.ErrorFree(bridge.Handle(e))
}

func (h *Host) optionsNew() uint64 {
	return uint64(h.bridge.OptionsNew())
}

func (h *Host) optionsFree(o uint64) {
	h.bridge.OptionsFree(bridge.Handle(o))
}

func (h *Host) optionsSetInfer(o uint64, enabled uint32) {
	h.bridge.OptionsSetInfer(bridge.Handle(o), enabled != 0)
}

func (h *Host) optionsSetTraceInference(o uint64, enabled uint32) {
	h.bridge.OptionsSetTraceInference(bridge.Handle(o), enabled != 0)
}

func (h *Host) optionsSetExplain(o uint64, enabled uint32) {
	h.bridge.OptionsSetExplain(bridge.Handle(o), enabled != 0)
}

func (h *Host) optionsSetParallel(o uint64, enabled uint32) {
	h.bridge.OptionsSetParallel(bridge.Handle(o), enabled != 0)
}

func (h *Host) optionsSetPrefetch(o uint64, enabled uint32) {
	h.bridge.OptionsSetPrefetch(bridge.Handle(o), enabled != 0)
}

func (h *Host) optionsSetPrefetchSize(o uint64, size int32) {
	h.bridge.OptionsSetPrefetchSize(bridge.Handle(o), int(size))
}

func (h *Host) optionsSetSessionIdleTimeout(o uint64, millis int64) {
	h.bridge.OptionsSetSessionIdleTimeoutMillis(bridge.Handle(o), millis)
}

func (h *Host) optionsSetTransactionTimeout(o uint64, millis int64) {
	h.bridge.OptionsSetTransactionTimeoutMillis(bridge.Handle(o), millis)
}

func (h *Host) optionsSetSchemaLockAcquireTimeout(o uint64, millis int64) {
	h.bridge.OptionsSetSchemaLockAcquireTimeoutMillis(bridge.Handle(o), millis)
}

func (h *Host) optionsSetReadAnyReplica(o uint64, enabled uint32) {
	h.bridge.OptionsSetReadAnyReplica(bridge.Handle(o), enabled != 0)
}

func (h *Host) conceptDocumentToJSON(doc uint64) uint64 {
	return uint64(h.bridge.ConceptDocumentToJSON(bridge.Handle(doc)))
}

func (h *Host) conceptDocumentToYAML(doc uint64) uint64 {
	return uint64(h.bridge.ConceptDocumentToYAML(bridge.Handle(doc)))
}

func (h *Host) conceptDocumentFree(doc uint64) {
	h.bridge.ConceptDocumentFree(bridge.Handle(doc))
}
