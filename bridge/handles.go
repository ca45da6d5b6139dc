package bridge

import (
	"fmt"
	"io"
	"sync"
)

// Handle is an opaque reference to a resource owned by a Table. The zero
// handle is never allocated.
type Handle uint64

// NullHandle signals a failed constructor.
const NullHandle Handle = 0

// ContractViolation is the panic value for misuse of a handle: releasing it
// twice, using it after release, aliasing a mutable borrow, or borrowing it as
// the wrong type.
type ContractViolation struct {
	Handle Handle
	Reason string
}

func (v *ContractViolation) Error() string {
	return fmt.Sprintf("handle %d: %s", v.Handle, v.Reason)
}

func violation(h Handle, format string, args ...any) *ContractViolation {
	return &ContractViolation{Handle: h, Reason: fmt.Sprintf(format, args...)}
}

type entry struct {
	value    any
	borrowed bool // mutably
}

// Table owns every resource that has crossed the boundary. Handles are
// allocated in increasing order and never reused, so a handle below nextID
// with no entry has been released. Freed entries are dropped from the map.
type Table struct {
	mu      sync.RWMutex
	entries map[Handle]*entry
	nextID  Handle
}

func NewTable() *Table {
	return &Table{
		entries: make(map[Handle]*entry),
		nextID:  1,
	}
}

// Release hands ownership of v to the table. Releasing nil yields NullHandle.
func (t *Table) Release(v any) Handle {
	if v == nil {
		return NullHandle
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.nextID
	t.nextID++
	t.entries[h] = &entry{value: v}
	return h
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// lookup returns the live entry for h. The caller holds mu.
func (t *Table) lookup(h Handle) *entry {
	if h == NullHandle {
		panic(violation(h, "null handle"))
	}
	e, ok := t.entries[h]
	if !ok {
		if h < t.nextID {
			panic(violation(h, "used after release"))
		}
		panic(violation(h, "unknown handle"))
	}
	return e
}

func cast[T any](h Handle, v any) T {
	typed, ok := v.(T)
	if !ok {
		var zero T
		panic(violation(h, "holds %T, not %T", v, zero))
	}
	return typed
}

// Borrow returns the resource behind h for reading. The result must not be
// kept past the current call.
func Borrow[T any](t *Table, h Handle) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.lookup(h)
	if e.borrowed {
		panic(violation(h, "borrowed while mutably borrowed"))
	}
	return cast[T](h, e.value)
}

// BorrowMut returns the resource behind h for exclusive use until done is
// called.
func BorrowMut[T any](t *Table, h Handle) (value T, done func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(h)
	if e.borrowed {
		panic(violation(h, "mutably borrowed twice"))
	}
	value = cast[T](h, e.value)
	e.borrowed = true

	var once sync.Once
	return value, func() {
		once.Do(func() {
			t.mu.Lock()
			e.borrowed = false
			t.mu.Unlock()
		})
	}
}

// Take removes the resource behind h from the table without closing it and
// returns it to the caller, who now owns it.
func Take[T any](t *Table, h Handle) T {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(h)
	if e.borrowed {
		panic(violation(h, "released while mutably borrowed"))
	}
	value := cast[T](h, e.value)
	delete(t.entries, h)
	return value
}

// Free destroys h and the resource it owns. Resources with a Close or
// Release method are closed; a Close error is returned. Freeing NullHandle
// does nothing.
func (t *Table) Free(h Handle) error {
	if h == NullHandle {
		return nil
	}
	switch r := Take[any](t, h).(type) {
	case io.Closer:
		return r.Close()
	case interface{ Close() }:
		r.Close()
	case interface{ Release() }:
		r.Release()
	}
	return nil
}
