package driver

import (
	"log/slog"
	"sync"
)

// CallbackID identifies a callback registration on one session or
// transaction.
type CallbackID uint64

// ReopenCallback is notified after a session has been transparently reopened.
//
// If the value also implements Releaser, Release is called exactly once when
// the registration is discarded: when it is removed, or when the session
// closes. This happens whether or not Reopened ever ran.
type ReopenCallback interface {
	Reopened()
}

// Releaser is implemented by registrations that own resources.
type Releaser interface {
	Release()
}

// ReopenFunc adapts a plain function to ReopenCallback.
type ReopenFunc func()

func (f ReopenFunc) Reopened() { f() }

type closeEntry struct {
	id CallbackID
	fn func()
}

// reopenRegistration makes sure Reopened never starts after release and that
// Release runs once, after any in-flight Reopened returns. A callback may
// remove its own registration from inside Reopened.
type reopenRegistration struct {
	id       CallbackID
	callback ReopenCallback

	mu             sync.Mutex
	running        int
	released       bool
	releasePending bool
}

func (r *reopenRegistration) notify(logger *slog.Logger) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.running++
	r.mu.Unlock()

	invoke(logger, "reopen", r.callback.Reopened)

	r.mu.Lock()
	r.running--
	runRelease := r.releasePending && r.running == 0
	if runRelease {
		r.releasePending = false
	}
	r.mu.Unlock()

	if runRelease {
		r.destroy(logger)
	}
}

func (r *reopenRegistration) release(logger *slog.Logger) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	if r.running > 0 {
		r.releasePending = true
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.destroy(logger)
}

func (r *reopenRegistration) destroy(logger *slog.Logger) {
	if releaser, ok := r.callback.(Releaser); ok {
		invoke(logger, "release", releaser.Release)
	}
}

// callbackRegistry holds the close and reopen registrations of one resource.
// Close callbacks fire at most once: the registry is marked closed under its
// lock and later registrations run immediately.
type callbackRegistry struct {
	mu       sync.Mutex
	logger   *slog.Logger
	nextID   CallbackID
	closed   bool
	onClose  []closeEntry
	onReopen []*reopenRegistration
}

func newCallbackRegistry(logger *slog.Logger) *callbackRegistry {
	return &callbackRegistry{logger: logger}
}

func (r *callbackRegistry) addClose(fn func()) CallbackID {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if !r.closed {
		r.onClose = append(r.onClose, closeEntry{id: id, fn: fn})
		r.mu.Unlock()
		return id
	}
	r.mu.Unlock()

	// Registered after the terminal transition: notify right away.
	invoke(r.logger, "close", fn)
	return id
}

func (r *callbackRegistry) removeClose(id CallbackID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.onClose {
		if entry.id == id {
			r.onClose = append(r.onClose[:i], r.onClose[i+1:]...)
			return true
		}
	}
	return false
}

func (r *callbackRegistry) addReopen(cb ReopenCallback) CallbackID {
	r.mu.Lock()
	r.nextID++
	reg := &reopenRegistration{id: r.nextID, callback: cb}
	if !r.closed {
		r.onReopen = append(r.onReopen, reg)
		r.mu.Unlock()
		return reg.id
	}
	r.mu.Unlock()

	// A closed session never reopens; discard the registration now.
	reg.release(r.logger)
	return reg.id
}

func (r *callbackRegistry) removeReopen(id CallbackID) bool {
	r.mu.Lock()
	var found *reopenRegistration
	for i, reg := range r.onReopen {
		if reg.id == id {
			found = reg
			r.onReopen = append(r.onReopen[:i], r.onReopen[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return false
	}
	found.release(r.logger)
	return true
}

func (r *callbackRegistry) fireReopen() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	regs := append([]*reopenRegistration(nil), r.onReopen...)
	r.mu.Unlock()

	for _, reg := range regs {
		reg.notify(r.logger)
	}
}

// close marks the registry closed, fires the close callbacks in registration
// order and releases every reopen registration. Only the first call has any
// effect.
func (r *callbackRegistry) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	onClose := r.onClose
	onReopen := r.onReopen
	r.onClose = nil
	r.onReopen = nil
	r.mu.Unlock()

	for _, entry := range onClose {
		invoke(r.logger, "close", entry.fn)
	}
	for _, reg := range onReopen {
		reg.release(r.logger)
	}
}

// invoke runs a caller-supplied callback, logging instead of propagating a
// panic: callbacks may run on the monitor goroutine.
func invoke(logger *slog.Logger, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Callback panicked", "callback", kind, "error", r)
		}
	}()
	fn()
}
