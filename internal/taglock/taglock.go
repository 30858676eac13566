// Package taglock implements tagged-pointer spinlocks: the low bit of a
// pointer-sized word is used as the lock mark, following the discipline of
// the spinlock_pointer/spinunlock_pointer macros used by the resource core
// this module is modeled on. Locks here are held only for short,
// non-blocking critical sections (pointer surgery, table lookups, entry
// state transitions) — never across an operation that can itself suspend.
//
// The pin/unpin calls around the spin loop are adapted from
// github.com/NikoMalik/sync_pool's runtime-linkname tricks (see
// internal/xruntime): pinning the goroutine to its P for the duration of
// the spin keeps the runtime from preempting mid-critical-section, the Go
// analogue of the original's "spinlocks never suspend" requirement.
package taglock

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/hqrip/taskres/internal/xruntime"
)

const lockedBit = uintptr(1)

// spinCycles is the number of CAS attempts tried before yielding the
// processor, for a lock of this kind (short critical sections, expected
// low contention).
const spinCycles = 64

// Pointer is a spinlock-guarded tagged pointer to a T. The zero value is an
// unlocked nil pointer.
type Pointer[T any] struct {
	addr unsafe.Pointer
}

func tag(p unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) | lockedBit)
}

func untag(p unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) &^ lockedBit)
}

func isLocked(p unsafe.Pointer) bool {
	return uintptr(p)&lockedBit != 0
}

// Lock acquires the spinlock and returns the dereferenceable pointer value
// that was stored. The caller must call Unlock with a (possibly different)
// replacement value before returning control to any code that might take
// this lock again.
func (p *Pointer[T]) Lock() *T {
	xruntime.ProcPin()
	for {
		for i := 0; i < spinCycles; i++ {
			raw := atomic.LoadPointer(&p.addr)
			if isLocked(raw) {
				continue
			}
			if atomic.CompareAndSwapPointer(&p.addr, raw, tag(raw)) {
				return (*T)(raw)
			}
		}
		xruntime.ProcUnpin()
		runtime.Gosched()
		xruntime.ProcPin()
	}
}

// TryLock attempts to acquire the spinlock without spinning. It reports
// whether the lock was acquired. On success the caller must release it
// with Unlock, exactly as with Lock (TryLock pins the goroutine to its P
// on success, to match Unlock's unconditional unpin).
func (p *Pointer[T]) TryLock() (val *T, ok bool) {
	raw := atomic.LoadPointer(&p.addr)
	if isLocked(raw) {
		return nil, false
	}
	xruntime.ProcPin()
	if !atomic.CompareAndSwapPointer(&p.addr, raw, tag(raw)) {
		xruntime.ProcUnpin()
		return nil, false
	}
	return (*T)(raw), true
}

// Unlock releases the spinlock, storing newVal as the new unlocked pointer
// value. newVal need not equal the value returned by Lock/TryLock — this is
// how a locked pointer is atomically replaced (e.g. swapping in a grown
// lookup table, or unlinking a node from a list).
func (p *Pointer[T]) Unlock(newVal *T) {
	atomic.StorePointer(&p.addr, unsafe.Pointer(newVal))
	xruntime.ProcUnpin()
}

// Peek loads the current value without locking. Only safe for values that
// are read-without-synchronization-tolerant (e.g. reading a refcount that
// has its own atomic discipline); structural reads must go through Lock.
func (p *Pointer[T]) Peek() *T {
	return (*T)(untag(atomic.LoadPointer(&p.addr)))
}
