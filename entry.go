package taskres

import "sync/atomic"

// EntryState is the state of a single resource entry within a pool's
// lookup table. An entry moves away from Free only while the owning
// pool's lookup table pointer is spinlocked (see internal/taglock and
// pool.go's lookup field).
type EntryState int32

const (
	Free     EntryState = iota // Free to use; id/owner are stale hints only.
	FixMe                      // Assigned to a group; needs Fix called on it.
	Fixing                     // Fix is in progress (transient, single-goroutine).
	Fixed                      // Fixed; resource is in use by its owner.
	Detached                   // Detached from its group, awaiting free.
)

func (s EntryState) String() string {
	switch s {
	case Free:
		return "Free"
	case FixMe:
		return "FixMe"
	case Fixing:
		return "Fixing"
	case Fixed:
		return "Fixed"
	case Detached:
		return "Detached"
	default:
		return "EntryState(?)"
	}
}

// Entry is a single slot in a pool's lookup table. Entries are never
// moved once created (their address is stable for the pool's lifetime),
// only their fields are mutated, and only under the pool's lookup lock.
type Entry struct {
	state atomic.Int32 // EntryState, atomic for lock-free State() reads.

	// id is the resource id this entry is lazily bound to. It is only
	// meaningful once state has left Free at least once; InvalidID
	// before that.
	id ResourceID

	// owner is an opaque hint (set by the caller, typically a *Group)
	// used to implement locality of reference: fixing prefers a Free
	// entry whose owner matches the requesting group or one of its
	// ancestors over an arbitrary Free entry. It carries no ownership
	// and is never dereferenced by this package.
	owner any

	// resource is the pool-allocated payload, allocated by createEntry
	// when the entry is created (per pool_update's cost-tiered creation
	// policy), or nil once freeEntry has released it.
	resource any

	// slot is this entry's permanent index into its pool's lookup table,
	// set once by Lookup.insert. It lets Unfix push a precise hint onto
	// the pool's free chain instead of a full rescan.
	slot int32
}

// State returns the entry's current state without acquiring any lock.
func (e *Entry) State() EntryState {
	return EntryState(e.state.Load())
}

// Resource returns the payload currently held by this entry, or nil.
func (e *Entry) Resource() any { return e.resource }

// ID returns the resource id this entry is presently bound to.
func (e *Entry) ID() ResourceID { return e.id }

// Owner returns the locality hint currently set on this entry.
func (e *Entry) Owner() any { return e.owner }

// createEntry allocates a new entry's resource via the pool's Alloc
// callback and returns it in the Free state. The caller must hold the
// pool's lookup lock. On allocation failure it returns (nil,
// ErrOutOfMemory) and nresources is left unchanged by the caller.
func createEntry(ops PoolOps, key ResourceKey, cost Cost) (*Entry, error) {
	res, ok := ops.Alloc(key, cost)
	if !ok {
		return nil, ErrOutOfMemory
	}
	e := &Entry{id: InvalidID, resource: res}
	e.state.Store(int32(Free))
	return e, nil
}

// freeEntry releases an entry's resource back through the pool's Free
// callback. The entry must be Free; the caller must hold the pool's
// lookup lock. Violating the Free precondition is a programming error
// (mirrors HQASSERT(entry->state == TASK_RESOURCE_FREE, ...) in the
// original's resource_entry_free).
func freeEntry(ops PoolOps, e *Entry) error {
	if e.State() != Free {
		assertf(false, "freeEntry: entry not free (state=%s)", e.State())
		return ErrInvariant
	}
	ops.Free(e.resource)
	e.resource = nil
	e.id = InvalidID
	e.owner = nil
	return nil
}
