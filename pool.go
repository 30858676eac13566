package taskres

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hqrip/taskres/internal/freelist"
	"github.com/hqrip/taskres/internal/taglock"
)

// PoolOps supplies the type-specific behavior a Pool needs: how to
// create and destroy instances, how to compare this pool's key against
// a candidate, how to bind a fixed id to a resource's address, and how
// big an entry's resource is for low-memory accounting purposes. Every
// Pool owns exactly one PoolOps implementation, constructed by the
// Source's MakePool callback.
type PoolOps interface {
	// Alloc constructs one resource instance charged at cost, returning
	// (resource, true) on success or (nil, false) on failure. Called
	// with the pool's lookup table locked; it may only block on MM
	// system locks.
	Alloc(key ResourceKey, cost Cost) (resource any, ok bool)

	// Free releases a resource instance previously returned by Alloc.
	// Called with the pool's lookup table locked.
	Free(resource any)

	// Compare reports whether this pool (identified by the key it was
	// constructed with) can serve requests for key, i.e. whether the
	// pool can be shared across callers requesting key.
	Compare(key ResourceKey) bool

	// Fix is called just before a resource address is returned to a
	// caller fixing a particular id; implementations may use it to
	// compute an id-dependent address (e.g. a band number selecting an
	// offset into a shared buffer). It must not modify entry except for
	// its resource field.
	Fix(entry *Entry)

	// EntrySize returns the number of bytes entry's resource occupies,
	// or 0 if entry should never be offered to or reclaimed by the
	// low-memory handler.
	EntrySize(entry *Entry) uintptr

	// Finish releases any resources the PoolOps implementation itself
	// holds (separate from the pool's entries), called once when the
	// pool's reference count reaches zero.
	Finish()
}

// IdentityCompare is a PoolOps.Compare implementation suitable for
// simple resource types whose pool instances are distinguished purely
// by ResourceKey equality (e.g. a size-keyed buffer pool).
func IdentityCompare(poolKey, key ResourceKey) bool { return poolKey == key }

// Pool manages a collection of same-typed, same-keyed resource
// instances shared across task groups. Its nresources/nprovided/
// ndetached/minimum/maximum/promisemin/promisemax fields, and its
// lookup table, are only ever read or written while the lookup table's
// spinlock is held (see the invariant list in update).
type Pool struct {
	refcount atomic.Int64
	typ      ResourceType
	source   *Source
	key      ResourceKey
	ops      PoolOps

	// cacheUnfixed, if true, allows entries to retain their resource
	// across an unfix/fix cycle rather than being zeroed or discarded;
	// set by the Source's MakePool callback.
	cacheUnfixed bool

	// next links this pool into its source's intrusive pool list. Only
	// read or written while the source's list lock is held.
	next *Pool

	lookup     taglock.Pointer[Lookup]
	nresources int
	nprovided  int
	ndetached  int
	minimum    int
	maximum    int
	promisemin int
	promisemax int

	// free is a non-authoritative hint queue of lookup-table slot
	// indexes that were recently freed or unfixed. It exists purely to
	// speed up the common "find any Free entry" path; the lookup table
	// itself remains authoritative (see internal/freelist's doc
	// comment) — a stale hint is simply skipped by the caller.
	free freelist.Chain
}

// newPool constructs an unregistered pool for typ/key, with the given
// ops. It is not yet linked into any Source's pool list; callers obtain
// pools exclusively via Source.GetPool.
func newPool(typ ResourceType, source *Source, key ResourceKey, ops PoolOps, cacheUnfixed bool) *Pool {
	p := &Pool{typ: typ, source: source, key: key, ops: ops, cacheUnfixed: cacheUnfixed}
	p.refcount.Store(1)
	return p
}

// Type returns the resource type this pool manages.
func (p *Pool) Type() ResourceType { return p.typ }

// Key returns the key this pool was constructed with.
func (p *Pool) Key() ResourceKey { return p.key }

// Acquire takes another reference to p. Every Acquire must be matched
// with a Release.
func (p *Pool) Acquire() *Pool {
	before := p.refcount.Add(1) - 1
	assertf(before > 0, "Pool.Acquire: already released")
	return p
}

// Release drops a reference to p. At zero, the pool is unlinked from
// its source's list, every remaining lookup-table entry is freed
// through ops.Free, and ops.Finish is called. It is a programming error
// to release a pool while any entry is provided or detached.
func (p *Pool) Release() {
	if p == nil {
		return
	}
	source := p.source

	unlocked := source.list.Lock()
	after := p.refcount.Add(-1)
	assertf(after >= 0, "Pool.Release: already released")
	if after != 0 {
		source.list.Unlock(unlocked)
		return
	}

	head := unlocked
	iter := &head
	for *iter != p {
		assertf(*iter != nil, "Pool.Release: pool not found on source list")
		if *iter == nil {
			break
		}
		iter = &(*iter).next
	}
	if *iter == p {
		*iter = p.next
	}
	p.next = nil
	source.list.Unlock(head)

	entries := p.lookup.Lock()
	assertf(p.nprovided == 0 && p.ndetached == 0,
		"Pool.Release: destroying pool still providing resources")
	p.lookup.Unlock(nil)

	if entries != nil {
		entries.forEach(func(e *Entry) {
			if e.State() == Free {
				_ = freeEntry(p.ops, e)
			}
		})
	}

	p.ops.Finish()
	source.decref()
}

// verifyLocked checks the pool's bookkeeping invariants against its
// lookup table contents. Only meaningful in debug builds (taskresdebug);
// compiled to a no-op call in release builds via assertf.
func (p *Pool) verifyLocked(lookup *Lookup) {
	ncounted, nfixed, ndetached, nfullydetached := 0, 0, 0, 0
	lookup.forEach(func(e *Entry) {
		ncounted++
		switch e.State() {
		case Detached:
			if owner, ok := e.owner.(*Pool); ok && owner == p {
				nfullydetached++
			} else {
				ndetached++
			}
		case Free:
		default:
			nfixed++
		}
	})
	assertf(ncounted == p.nresources, "verifyLocked: entry count mismatch")
	assertf(nfullydetached <= p.ndetached, "verifyLocked: more fully detached than tracked")
	assertf(nfixed+ndetached <= p.nprovided, "verifyLocked: more fixed than provided")
}

// update atomically changes the pool's min/max totals for the given
// requirement state, growing (and, if now unused, shrinking) the lookup
// table and eagerly allocating entries up to the new combined maximum
// (creation failures are fatal only below the new minimum).
// oldmin/newmin/oldmax/newmax are the requirement-tree delta being
// applied: the caller (a Requirement, via SetPool/SetState/SetMin/
// SetMax/SimMin/SimMax) is responsible for evaluating its expression
// tree first and passing the before/after root bounds for restype.
//
// Mirrors resource_pool_update: clients always increase current (Now)
// allocations before reducing future (Future) ones, so the lookup table
// is never reduced or discarded unnecessarily mid-transition.
func (p *Pool) update(state State, oldmin, newmin, oldmax, newmax uint32) error {
	lookup := p.lookup.Lock()
	var ok bool
	defer func() {
		if lookup != nil || ok {
			p.verifyLocked(lookup)
		}
		p.lookup.Unlock(lookup)
	}()

	minNow, maxNow := p.minimum, p.maximum
	minFuture, maxFuture := p.promisemin, p.promisemax

	switch state {
	case StateNow:
		assertf(minNow >= int(oldmin), "update: underflow in resource minimum")
		minNow = minNow + int(newmin) - int(oldmin)
		assertf(maxNow >= int(oldmax), "update: underflow in resource maximum")
		maxNow = maxNow + int(newmax) - int(oldmax)
		assertf(maxNow >= minNow, "update: resource max less than min")
	case StateFuture:
		assertf(minFuture >= int(oldmin), "update: underflow in resource minimum")
		minFuture = minFuture + int(newmin) - int(oldmin)
		assertf(maxFuture >= int(oldmax), "update: underflow in resource maximum")
		maxFuture = maxFuture + int(newmax) - int(oldmax)
		assertf(maxFuture >= minFuture, "update: resource max less than min")
	case StateNever:
		// No pool accounting change.
	default:
		return errors.Errorf("taskres: invalid requirement state %v", state)
	}

	assertf(maxNow >= p.nprovided, "update: reducing maximum below provision level")

	minimum := maxInt(minNow, minFuture)
	maximum := maxInt(maxNow, maxFuture)
	assertf(maximum >= minimum, "update: pool maximum less than minimum")

	if maximum == 0 {
		if lookup != nil && p.ndetached == 0 {
			lookup.forEach(func(e *Entry) {
				if e.State() == Free {
					_ = freeEntry(p.ops, e)
				}
			})
			lookup = nil
			p.nresources = 0
		}
	} else if lookup == nil {
		lookup = newLookup(lookupSize(maximum))
	} else if len(lookup.entries) < maximum {
		rehashed := newLookup(lookupSize(maximum))
		lookup.forEach(func(e *Entry) { rehashed.insert(e) })
		lookup = rehashed
	}

	for p.nresources < maximum {
		var cost Cost
		switch {
		case p.nresources < minimum:
			cost = lowMemCosts[3]
		case p.nresources < maxNow:
			cost = lowMemCosts[2]
		default:
			cost = lowMemCosts[1]
		}

		entry, err := createEntry(p.ops, p.key, cost)
		if err != nil {
			if p.nresources < minimum {
				return ErrOutOfMemory
			}
			break // Minimum is guaranteed; future headroom is optional.
		}
		lookup.insert(entry)
		p.nresources++
	}

	p.minimum, p.maximum = minNow, maxNow
	p.promisemin, p.promisemax = minFuture, maxFuture
	ok = true
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ForAll calls fn for every occupied entry in the pool's lookup table,
// starting the iteration at the slot id would hash to. Iteration stops
// early, returning false, the first time fn returns false. The lookup
// table is locked for the duration; fn must not block or re-enter any
// pool operation.
func (p *Pool) ForAll(id ResourceID, fn func(*Entry) bool) bool {
	lookup := p.lookup.Lock()
	defer p.lookup.Unlock(lookup)

	if lookup == nil || len(lookup.entries) == 0 {
		return true
	}

	n := len(lookup.entries)
	start := lookup.firstSlot(id)
	i := start
	for {
		if e := lookup.entries[i]; e != nil && !fn(e) {
			return false
		}
		if i == 0 {
			i = n
		}
		if i--; i == start {
			break
		}
	}
	return true
}

// Fix returns the entry bound to id, creating the binding by repurposing
// a Free entry if none exists yet. owners is a locality-preference list,
// most-preferred first (typically a group and its ancestors, see
// Group.ancestorOwners): a freshly claimed entry prefers one already
// carrying a matching owner hint over an arbitrary Free entry. hit
// reports whether id was already bound — whether still held by someone
// else (Fixed/Detached) or merely cached from a prior Unfix of the same
// id (Free, still carrying id and found by lookup.find) — rather than freshly
// claimed from an unrelated Free entry. A Detached entry matching id is
// transitioned back to Fixed in place, mirroring the documented
// re-fix-after-detach behavior; a Free entry matching id pays the same
// Fix cost as a fresh claim but keeps its cached resource.
func (p *Pool) Fix(id ResourceID, owners []any) (entry *Entry, hit bool, err error) {
	assertf(id != InvalidID, "Pool.Fix: invalid id")
	if id == InvalidID {
		return nil, false, ErrInvalidID
	}

	lookup := p.lookup.Lock()
	defer func() { p.lookup.Unlock(lookup) }()

	if lookup == nil {
		return nil, false, ErrUnavailable
	}

	if e := lookup.find(id); e != nil {
		switch e.State() {
		case Detached:
			e.state.Store(int32(Fixed))
			p.ndetached--
			return e, true, nil
		case Free:
			e.state.Store(int32(FixMe))
			e.state.Store(int32(Fixing))
			p.ops.Fix(e)
			e.state.Store(int32(Fixed))
			p.nprovided++
			return e, true, nil
		default:
			return e, true, nil
		}
	}

	e := p.claimFreeLocked(lookup, owners)
	if e == nil {
		return nil, false, ErrUnavailable
	}
	e.id = id
	e.owner = firstOwner(owners)
	e.state.Store(int32(FixMe))
	e.state.Store(int32(Fixing))
	p.ops.Fix(e)
	e.state.Store(int32(Fixed))
	p.nprovided++
	return e, false, nil
}

// firstOwner returns owners[0], or nil if owners is empty.
func firstOwner(owners []any) any {
	if len(owners) == 0 {
		return nil
	}
	return owners[0]
}

// claimFreeLocked finds a Free entry to repurpose, in this priority
// order: a recent hint from the free chain whose entry carries owners[0]
// as its owner hint (any hinted entry if owners is empty; a stale or
// non-matching hint is simply dropped), then a Free entry already
// carrying an owner hint matching owners (most-preferred first), then
// any Free entry. Returns nil if none is available. The caller must hold p's
// lookup lock.
func (p *Pool) claimFreeLocked(lookup *Lookup, owners []any) *Entry {
	n := len(lookup.entries)
	const maxHintAttempts = 4
	for i := 0; i < maxHintAttempts; i++ {
		idx, ok := p.free.PopTail()
		if !ok {
			break
		}
		if int(idx) < 0 || int(idx) >= n {
			continue
		}
		if e := lookup.entries[idx]; e != nil && e.State() == Free && (len(owners) == 0 || e.owner == owners[0]) {
			return e
		}
	}

	for _, owner := range owners {
		var found *Entry
		lookup.forEach(func(e *Entry) {
			if found == nil && e.State() == Free && e.owner == owner {
				found = e
			}
		})
		if found != nil {
			return found
		}
	}

	var found *Entry
	lookup.forEach(func(e *Entry) {
		if found == nil && e.State() == Free {
			found = e
		}
	})
	return found
}

// Unfix returns entry to the Free state. Its id and owner hint are
// retained so a later Fix for the same id (or the same owner's locality
// preference) finds it again cheaply. If the pool was constructed
// without cacheUnfixed, the resource's prior contents are discarded by
// re-allocating through ops before the entry is marked Free; a failed
// re-allocation simply leaves the stale resource in place rather than
// losing the entry. entry must currently be Fixed or Detached.
func (p *Pool) Unfix(entry *Entry) {
	lookup := p.lookup.Lock()
	defer p.lookup.Unlock(lookup)

	st := entry.State()
	assertf(st == Fixed || st == Detached, "Pool.Unfix: entry not fixed or detached (state=%s)", st)
	if st == Detached {
		p.ndetached--
	}
	p.nprovided--

	if !p.cacheUnfixed {
		if fresh, ok := p.ops.Alloc(p.key, lowMemCosts[2]); ok {
			p.ops.Free(entry.resource)
			entry.resource = fresh
		}
	}

	entry.state.Store(int32(Free))
	p.free.PushHead(entry.slot)
}

// Detach marks entry Detached: it stops being handed out to anyone else
// fixing its id from scratch, but remains assigned to whatever currently
// holds it until an explicit Unfix (or a later Fix of the same id, which
// transitions it straight back to Fixed). entry must currently be Fixed.
func (p *Pool) Detach(entry *Entry) {
	lookup := p.lookup.Lock()
	defer p.lookup.Unlock(lookup)

	assertf(entry.State() == Fixed, "Pool.Detach: entry not fixed (state=%s)", entry.State())
	entry.state.Store(int32(Detached))
	p.ndetached++
}

// logPoolEvent emits a structured pool event log entry. Kept out of the
// Fix/Unfix hot path entirely; its only caller is Source.GetPool, on pool
// construction.
func logPoolEvent(p *Pool, event string, fields logrus.Fields) {
	fields["event"] = event
	fields["resource_type"] = p.typ.String()
	logrus.WithFields(fields).Debug("taskres: pool event")
}
