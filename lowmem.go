package taskres

// lowMemCosts is the four-band cost schedule a pool charges its entries
// against, indexed by how far nresources sits below the pool's current
// bounds at the moment an entry is created (see Pool.update). Mirrors
// resource_low_mem_costs[]'s relative weights: a higher Value makes an
// entry more expensive for the low-memory handler to justify reclaiming,
// so entries created to satisfy a hard minimum are charged against the
// reserve tier at a cost that makes them effectively unreclaimable, while
// entries created only as speculative future headroom are charged cheap
// RAM-tier costs that the handler reclaims first.
//
// reclaim's floor tracks these same bands by count rather than by a
// per-entry cost stamp (no per-entry cost persists on Entry — see
// DESIGN.md's low-memory note): band 0 is whatever sits above both the
// Now and Future maxima (stale headroom left over from a since-lowered
// bound, reclaimed first), band 1 is the Future-only headroom between
// the Now maximum and the combined maximum, band 2 is committed-but-
// above-minimum entries, and band 3 is the hard minimum, never touched
// by reclaim.
var lowMemCosts = [4]Cost{
	{Tier: TierRAM, Value: 0.1},         // 0: stale headroom above every current bound — reclaim first
	{Tier: TierRAM, Value: 2.0},         // 1: beyond current max-now, pure future headroom
	{Tier: TierRAM, Value: 1e6},         // 2: within current max-now but above minimum — reclaim reluctantly
	{Tier: TierReservePool, Value: 1e3}, // 3: guarantees the hard minimum — reserve tier, never reclaimed
}

// lowMemLevelThreshold maps a solicitation severity level (0 = gentle, as
// used by Solicit's periodic housekeeping pass; higher = more urgent, as
// used by Release's synchronous pre-allocation-failure pass) to one
// past the highest-indexed cost band a solicitation at that level is
// willing to touch (level 0 returns 1, the first band it leaves alone).
// Mirrors resource_low_mem_level's escalation: level 0 only gives
// up stale headroom above every current bound; level 1 also gives up
// Future-only headroom; level 2 and above also gives up everything down
// to (but not including) the hard minimum.
func lowMemLevelThreshold(level int) int {
	switch {
	case level <= 0:
		return 1
	case level == 1:
		return 2
	default:
		return 3
	}
}

// reclaimFloor returns the lowest nresources count a reclaim at the given
// threshold is allowed to bring p down to, never below what is currently
// held (p.nprovided+p.ndetached) or the pool's committed minimum.
func (p *Pool) reclaimFloor(threshold int) int {
	hardFloor := maxInt(p.minimum, p.promisemin)
	if held := p.nprovided + p.ndetached; held > hardFloor {
		hardFloor = held
	}

	floor := hardFloor
	switch threshold {
	case 1:
		floor = maxInt(p.maximum, p.promisemax)
	case 2:
		floor = p.maximum
	}
	if floor < hardFloor {
		floor = hardFloor
	}
	return floor
}

// reclaim frees Free entries from p's lookup table down to the floor
// implied by level's cost-band threshold (see lowMemLevelThreshold and
// reclaimFloor), stopping early once requested bytes have been freed. A
// requested of 0 means free as much as the threshold and held counts
// allow, the shape Solicit's periodic housekeeping wants; a nonzero
// requested lets ReleaseFor stop as soon as it has freed enough. It never
// touches a non-Free entry and never drops nresources below reclaimFloor.
// tier is not consulted: the floor depends on level alone, and band 3
// (the reserve-pool tier) is never reclaimed.
func (p *Pool) reclaim(tier Tier, level int, requested uintptr) (uintptr, bool) {
	lookup, ok := p.lookup.TryLock()
	if !ok {
		return 0, false
	}
	if lookup == nil {
		p.lookup.Unlock(nil)
		return 0, false
	}

	floor := p.reclaimFloor(lowMemLevelThreshold(level))

	var freed uintptr
	var progress bool
	lookup.forEach(func(e *Entry) {
		if requested > 0 && freed >= requested {
			return
		}
		if p.nresources <= floor {
			return
		}
		if e.State() != Free {
			return
		}
		size := p.ops.EntrySize(e)
		if size == 0 {
			return
		}
		if err := freeEntry(p.ops, e); err != nil {
			return
		}
		lookup.entries[e.slot] = nil
		p.nresources--
		freed += size
		progress = true
	})

	p.lookup.Unlock(lookup)
	return freed, progress
}

// Solicit asks every pool in the source to give back Free entries it
// doesn't need to hold onto at the given severity level, walking the
// whole pool list once.
func (s *Source) Solicit(tier Tier, level int) (uintptr, bool) {
	return s.forEachPool(0, func(p *Pool, _ uintptr) (uintptr, bool) {
		return p.reclaim(tier, level, 0)
	})
}

// ReleaseFor is the same per-pool walk as Solicit, but for an urgent,
// synchronous reclamation pass: it stops as soon as requested bytes have
// been freed across all pools combined. A requested of 0 falls back to
// Solicit's unbounded behavior.
//
// This is distinct from Source.Release (which drops a refcount). The
// embedding MM subsystem reaches it through lowMemHandler.Release, which
// carries no size and so always passes a requested of 0.
func (s *Source) ReleaseFor(tier Tier, level int, requested uintptr) (uintptr, bool) {
	return s.forEachPool(requested, func(p *Pool, remaining uintptr) (uintptr, bool) {
		return p.reclaim(tier, level, remaining)
	})
}

// lowMemHandler adapts a Source to LowMemHandler without colliding with
// Source's own refcount-dropping Release method: the two are unrelated
// operations that happen to share a name in the embedding MM subsystem's
// vocabulary. NewSource registers this adapter, not the Source itself.
type lowMemHandler struct{ s *Source }

func (h lowMemHandler) Solicit(tier Tier, level int) (uintptr, bool) {
	return h.s.Solicit(tier, level)
}

func (h lowMemHandler) Release(tier Tier, level int) (uintptr, bool) {
	return h.s.ReleaseFor(tier, level, 0)
}

// forEachPool acquires a stable reference to every pool currently on the
// source's list, then calls fn on each outside the list lock (reclaim
// itself may briefly hold a pool's own lookup lock, but never the
// source's list lock, avoiding a lock-ordering cycle with GetPool).
// Once the running total reaches requested, remaining pools are released
// without being asked to reclaim anything further; requested of 0 means
// walk every pool regardless of progress so far.
func (s *Source) forEachPool(requested uintptr, fn func(p *Pool, remaining uintptr) (uintptr, bool)) (uintptr, bool) {
	head := s.list.Lock()
	var pools []*Pool
	for p := head; p != nil; p = p.next {
		pools = append(pools, p.Acquire())
	}
	s.list.Unlock(head)

	var total uintptr
	var any bool
	satisfied := false
	for _, p := range pools {
		if !satisfied {
			var remaining uintptr
			if requested > 0 {
				if total >= requested {
					satisfied = true
				} else {
					remaining = requested - total
				}
			}
			if !satisfied {
				freed, ok := fn(p, remaining)
				total += freed
				any = any || ok
			}
		}
		p.Release()
	}
	return total, any
}
