// Package freelist is a lock-free, growable hint queue.
//
// Adapted from github.com/NikoMalik/sync_pool's pool_queue.go (the
// poolDequeue/poolChain machinery backing sync.Pool's per-P local caches).
// The original dequeue/chain pair pooled arbitrary values; here they hint
// at FREE resource-lookup-table slots instead. A resource pool's lookup
// table (see ../../lookup.go) remains the single source of truth for entry
// state — this queue only avoids a full linear rescan on the common path
// of "find any free entry to repurpose". A hint that turns out stale (the
// entry was re-fixed by someone else between push and pop) is simply
// skipped by the caller, which falls back to the authoritative scan.
//
// Single-producer-style pushes happen from the goroutine that just unfixed
// an entry (the fast path); any goroutine fixing a new id may consume hints
// from the tail, same division of labor as the original's "local P can
// pushHead/popHead, any P can popTail".
package freelist

import (
	"sync/atomic"
)

// slot values are offset by +1 so that 0 can mean "empty slot" without
// colliding with a legitimate lookup-table index 0.
type slot struct {
	index int32
}

func isNilSlot(v *slot) bool {
	return v == nil || v.index == 0
}

const dequeueBits = 32

// dequeueLimit bounds a single ring's capacity; see poolDequeue's original
// comment — it must be at most (1<<dequeueBits)/4 to avoid ambiguous wrap.
const dequeueLimit = (1 << dequeueBits) / 4

// ring is a lock-free fixed-size single-producer, multi-consumer queue of
// slot hints. The single producer pushes/pops from the head; any number of
// consumers may pop from the tail.
type ring struct {
	headTail atomic.Uint64
	vals     []atomic.Pointer[slot]
}

func (d *ring) unpack(ptrs uint64) (head, tail uint32) {
	const mask = 1<<dequeueBits - 1
	head = uint32((ptrs >> dequeueBits) & mask)
	tail = uint32(ptrs & mask)
	return
}

func (d *ring) pack(head, tail uint32) uint64 {
	const mask = 1<<dequeueBits - 1
	return (uint64(head) << dequeueBits) | uint64(tail&mask)
}

func (d *ring) pushHead(v int32) bool {
	ptrs := d.headTail.Load()
	head, tail := d.unpack(ptrs)

	if (tail+uint32(len(d.vals)))&(1<<dequeueBits-1) == head {
		return false // full
	}

	slotPtr := &d.vals[head&uint32(len(d.vals)-1)]
	if slotPtr.Load() != nil {
		return false // slot occupied by a consumer racing us
	}

	slotPtr.Store(&slot{index: v + 1})
	d.headTail.Add(1 << dequeueBits)
	return true
}

func (d *ring) popHead() (int32, bool) {
	var slotPtr *atomic.Pointer[slot]
	for {
		ptrs := d.headTail.Load()
		head, tail := d.unpack(ptrs)
		if tail == head {
			return 0, false
		}
		head--
		if d.headTail.CompareAndSwap(ptrs, d.pack(head, tail)) {
			slotPtr = &d.vals[head&uint32(len(d.vals)-1)]
			break
		}
	}

	val := slotPtr.Load()
	if isNilSlot(val) {
		return 0, false
	}
	slotPtr.Store(nil)
	return val.index - 1, true
}

func (d *ring) popTail() (int32, bool) {
	var slotPtr *atomic.Pointer[slot]
	for {
		ptrs := d.headTail.Load()
		head, tail := d.unpack(ptrs)
		if tail == head {
			return 0, false
		}
		if d.headTail.CompareAndSwap(ptrs, d.pack(head, tail+1)) {
			slotPtr = &d.vals[tail&uint32(len(d.vals)-1)]
			break
		}
	}

	val := slotPtr.Load()
	if isNilSlot(val) {
		return 0, false
	}
	slotPtr.Store(nil)
	return val.index - 1, true
}

type ringElt struct {
	ring
	next, prev atomic.Pointer[ringElt]
}

// Chain is a dynamically-sized version of ring: a doubly-linked list of
// rings, each double the size of the previous one. Once a ring fills up,
// Chain allocates a new one and only ever pushes to the latest. Pops
// happen from the other end, and an exhausted ring is dropped from the
// list.
type Chain struct {
	head *ringElt
	tail atomic.Pointer[ringElt]
}

// PushHead adds a free slot-index hint to the head of the chain. Safe to
// call only from the single logical producer (the unfixing goroutine for
// this pool); concurrent PushHead calls on the same Chain are not safe.
func (c *Chain) PushHead(index int32) {
	d := c.head
	if d == nil {
		const initSize = 8
		d = &ringElt{}
		d.vals = make([]atomic.Pointer[slot], initSize)
		c.head = d
		c.tail.Store(d)
	}
	if d.pushHead(index) {
		return
	}

	newSize := len(d.vals) << 1
	if newSize >= dequeueLimit {
		newSize = dequeueLimit
	}
	d2 := &ringElt{}
	d2.prev.Store(d)
	d2.vals = make([]atomic.Pointer[slot], newSize)
	c.head = d2
	d.next.Store(d2)
	d2.pushHead(index)
}

// PopHead removes and returns a hint from the head of the chain. Like
// PushHead, only the single producer goroutine may call this.
func (c *Chain) PopHead() (int32, bool) {
	d := c.head
	for d != nil {
		if v, ok := d.popHead(); ok {
			return v, true
		}
		d = d.prev.Load()
	}
	return 0, false
}

// PopTail removes and returns a hint from the tail of the chain. Any
// number of consumer goroutines may call this concurrently.
func (c *Chain) PopTail() (int32, bool) {
	d := c.tail.Load()
	if d == nil {
		return 0, false
	}
	for {
		d2 := d.next.Load()
		if v, ok := d.popTail(); ok {
			return v, true
		}
		if d2 == nil {
			return 0, false
		}
		if c.tail.CompareAndSwap(d, d2) {
			d2.prev.Store(nil)
		}
		d = d2
	}
}
