package taskres

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hqrip/taskres/internal/taglock"
)

// MakePool constructs the PoolOps for a freshly needed (typ, key) pool,
// returning also whether unfixed entries should retain their resource
// across a fix/unfix cycle (cacheUnfixed). Supplied once per Source by
// the embedding SDK; called with no locks held.
type MakePool func(typ ResourceType, key ResourceKey) (ops PoolOps, cacheUnfixed bool, err error)

// LowMemRegistry is the narrow slice of the embedding MM subsystem's
// low-memory dispatcher this package needs: registering and
// deregistering a handler for a given tier. A Source registers its
// handler once per tier it participates in (TierRAM and TierReservePool) at
// construction and deregisters both when its last reference is dropped.
type LowMemRegistry interface {
	Register(tier Tier, handler LowMemHandler)
	Deregister(tier Tier, handler LowMemHandler)
}

// Source is the root object task groups and requirements ultimately
// acquire pools from: one Source exists per independent resource
// universe (normally one per RIP instance). It owns the intrusive list
// of every pool currently alive for it; a lowMemHandler adapter wrapping
// it is registered against both the RAM and reserve-pool tiers.
type Source struct {
	refcount atomic.Int64

	mm       MMAllocator
	registry LowMemRegistry
	makePool MakePool

	// list is the intrusive head of every live pool belonging to this
	// source, linked through Pool.next. Locked the same tagged-pointer
	// way as a pool's own lookup table.
	list taglock.Pointer[Pool]
}

// NewSource creates a Source backed by mm, registers it against registry
// for both low-memory tiers, and returns it with a single reference that
// the caller owns.
func NewSource(mm MMAllocator, registry LowMemRegistry, makePool MakePool) *Source {
	s := &Source{mm: mm, registry: registry, makePool: makePool}
	s.refcount.Store(1)
	if registry != nil {
		handler := lowMemHandler{s}
		registry.Register(TierRAM, handler)
		registry.Register(TierReservePool, handler)
	}
	return s
}

// Acquire takes another reference to s. Every Acquire must be matched
// with a Release or decref (pools hold their source reference via
// decref, since they don't expose a public Acquire/Release pair on
// Source directly).
func (s *Source) Acquire() *Source {
	before := s.refcount.Add(1) - 1
	assertf(before > 0, "Source.Acquire: already released")
	return s
}

// Release drops a reference to s. At zero, s deregisters itself from
// both low-memory tiers. It is a programming error to release a source
// while any pool still references it (pools hold their own reference,
// released via decref from Pool.Release).
func (s *Source) Release() { s.decref() }

// decref drops one reference, deregistering from the low-memory
// dispatcher once the count reaches zero. Called by both Source.Release
// and Pool.Release (a pool's existence pins its source).
func (s *Source) decref() {
	after := s.refcount.Add(-1)
	assertf(after >= 0, "Source.decref: already released")
	if after != 0 {
		return
	}
	if s.registry != nil {
		handler := lowMemHandler{s}
		s.registry.Deregister(TierRAM, handler)
		s.registry.Deregister(TierReservePool, handler)
	}
}

// GetPool returns a reference to the pool serving (typ, key), creating
// one via makePool if none of the source's existing pools for typ
// accepts key (per PoolOps.Compare). Mirrors resource_pool_get's
// find-or-create-with-race-resolution: the expensive construction call
// happens with no lock held, so two callers can race to build a pool for
// the same (typ, key); the loser's pool is discarded via ops.Finish and
// the winner's is used by both.
func (s *Source) GetPool(typ ResourceType, key ResourceKey) (*Pool, error) {
	if pool := s.findPool(typ, key); pool != nil {
		return pool, nil
	}

	ops, cacheUnfixed, err := s.makePool(typ, key)
	if err != nil {
		return nil, errors.Wrap(err, "taskres: make pool")
	}
	candidate := newPool(typ, s, key, ops, cacheUnfixed)

	head := s.list.Lock()
	for p := head; p != nil; p = p.next {
		if p.typ == typ && p.ops.Compare(key) {
			p.Acquire()
			s.list.Unlock(head)
			ops.Finish()
			return p, nil
		}
	}
	candidate.next = head
	s.list.Unlock(candidate)
	s.Acquire()
	logPoolEvent(candidate, "created", logrus.Fields{"key": int64(candidate.key)})
	return candidate, nil
}

// findPool returns a new reference to an existing pool serving (typ,
// key), or nil if none does.
func (s *Source) findPool(typ ResourceType, key ResourceKey) *Pool {
	head := s.list.Lock()
	defer s.list.Unlock(head)
	for p := head; p != nil; p = p.next {
		if p.typ == typ && p.ops.Compare(key) {
			return p.Acquire()
		}
	}
	return nil
}
