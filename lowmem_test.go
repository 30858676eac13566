package taskres

import "testing"

func TestLowMemCostsTierAssignment(t *testing.T) {
	for i, c := range lowMemCosts[:3] {
		if c.Tier != TierRAM {
			t.Errorf("lowMemCosts[%d].Tier = %v, want TierRAM", i, c.Tier)
		}
	}
	if lowMemCosts[3].Tier != TierReservePool {
		t.Fatalf("lowMemCosts[3].Tier = %v, want TierReservePool", lowMemCosts[3].Tier)
	}
}

func TestPoolReclaimGentleLevelOnlyTouchesStaleHeadroom(t *testing.T) {
	p, ops := newTestPool(t, 1)
	// Grow to a combined maximum of 6 (Now max 4, Future max 6) so the
	// top two entries are pure Future headroom.
	if err := p.update(StateNow, 0, 2, 0, 4); err != nil {
		t.Fatalf("update now: %v", err)
	}
	if err := p.update(StateFuture, 0, 0, 0, 6); err != nil {
		t.Fatalf("update future: %v", err)
	}
	if p.nresources != 6 {
		t.Fatalf("nresources = %d, want 6", p.nresources)
	}

	// Simulate the Future bound being lowered again without the
	// resources it provisioned being reclaimed yet: pool.update never
	// proactively drops excess entries when a bound shrinks, they just
	// sit Free until a reclaim pass visits them.
	p.promisemax = 4

	freed, ok := p.reclaim(TierRAM, 0, 0)
	if !ok || freed == 0 {
		t.Fatalf("reclaim(level 0) = (%d, %v), want progress against stale headroom", freed, ok)
	}
	if p.nresources != 4 {
		t.Fatalf("nresources after level-0 reclaim = %d, want 4 (floor at max(maximum,promisemax)=4)", p.nresources)
	}
	if ops.frees != 2 {
		t.Fatalf("frees = %d, want 2", ops.frees)
	}

	if _, ok := p.reclaim(TierRAM, 0, 0); ok {
		t.Fatal("a second level-0 reclaim should report no progress once at the band-0 floor")
	}
}

func TestPoolReclaimUrgentLevelReachesMinimum(t *testing.T) {
	p, ops := newTestPool(t, 1)
	if err := p.update(StateNow, 0, 2, 0, 4); err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.nresources != 4 {
		t.Fatalf("nresources = %d, want 4", p.nresources)
	}

	if _, ok := p.reclaim(TierRAM, 0, 0); ok {
		t.Fatal("level 0 should make no progress: no stale headroom above the combined maximum")
	}
	if _, ok := p.reclaim(TierRAM, 1, 0); ok {
		t.Fatal("level 1 should make no progress: no Future-only headroom above the Now maximum")
	}

	freed, ok := p.reclaim(TierRAM, 2, 0)
	if !ok {
		t.Fatal("level 2 should make progress down to the hard minimum")
	}
	if p.nresources != 2 {
		t.Fatalf("nresources after urgent reclaim = %d, want 2 (floor at minimum)", p.nresources)
	}
	if freed == 0 {
		t.Fatal("reclaim reported freed = 0 despite reclaiming entries")
	}
	if ops.frees != 2 {
		t.Fatalf("frees = %d, want 2", ops.frees)
	}

	if _, ok := p.reclaim(TierRAM, 2, 0); ok {
		t.Fatal("reclaim at minimum should report no progress")
	}
}

func TestPoolReclaimStopsOnceRequestedSatisfied(t *testing.T) {
	p, ops := newTestPool(t, 1)
	if err := p.update(StateNow, 0, 0, 0, 4); err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.nresources != 4 {
		t.Fatalf("nresources = %d, want 4", p.nresources)
	}

	// fakePoolOps.EntrySize is a constant 64 bytes; ask for just enough
	// to cover a single entry.
	freed, ok := p.reclaim(TierRAM, 2, 64)
	if !ok {
		t.Fatal("reclaim should make progress")
	}
	if freed != 64 {
		t.Fatalf("freed = %d, want 64 (stop once requested is satisfied)", freed)
	}
	if p.nresources != 3 {
		t.Fatalf("nresources = %d, want 3 (only one entry reclaimed)", p.nresources)
	}
	if ops.frees != 1 {
		t.Fatalf("frees = %d, want 1", ops.frees)
	}
}

func TestSourceSolicitWalksAllPools(t *testing.T) {
	ops1 := &fakePoolOps{key: 1}
	ops2 := &fakePoolOps{key: 2}
	makeOps := map[ResourceKey]PoolOps{1: ops1, 2: ops2}
	src := NewSource(nil, nil, func(typ ResourceType, key ResourceKey) (PoolOps, bool, error) {
		return makeOps[key], true, nil
	})

	p1, err := src.GetPool(LineOut, 1)
	if err != nil {
		t.Fatalf("GetPool(1): %v", err)
	}
	p2, err := src.GetPool(LineOut, 2)
	if err != nil {
		t.Fatalf("GetPool(2): %v", err)
	}
	if err := p1.update(StateNow, 0, 1, 0, 3); err != nil {
		t.Fatalf("p1.update: %v", err)
	}
	if err := p2.update(StateNow, 0, 1, 0, 3); err != nil {
		t.Fatalf("p2.update: %v", err)
	}

	// Level 2 is needed to reach each pool's minimum: there is no Future
	// headroom here for a gentler level to find.
	freed, ok := src.Solicit(TierRAM, 2)
	if !ok || freed == 0 {
		t.Fatalf("Solicit = (%d, %v), want progress across both pools", freed, ok)
	}
	if p1.nresources != 1 || p2.nresources != 1 {
		t.Fatalf("nresources after Solicit = %d/%d, want 1/1", p1.nresources, p2.nresources)
	}
}

func TestSourceReleaseForStopsOnceRequestedSatisfiedAcrossPools(t *testing.T) {
	ops1 := &fakePoolOps{key: 1}
	ops2 := &fakePoolOps{key: 2}
	makeOps := map[ResourceKey]PoolOps{1: ops1, 2: ops2}
	src := NewSource(nil, nil, func(typ ResourceType, key ResourceKey) (PoolOps, bool, error) {
		return makeOps[key], true, nil
	})

	p1, err := src.GetPool(LineOut, 1)
	if err != nil {
		t.Fatalf("GetPool(1): %v", err)
	}
	p2, err := src.GetPool(LineOut, 2)
	if err != nil {
		t.Fatalf("GetPool(2): %v", err)
	}
	if err := p1.update(StateNow, 0, 0, 0, 4); err != nil {
		t.Fatalf("p1.update: %v", err)
	}
	if err := p2.update(StateNow, 0, 0, 0, 4); err != nil {
		t.Fatalf("p2.update: %v", err)
	}

	freed, ok := src.ReleaseFor(TierRAM, 2, 64)
	if !ok {
		t.Fatal("ReleaseFor should make progress")
	}
	if freed != 64 {
		t.Fatalf("freed = %d, want 64 (stop once the requested amount is satisfied)", freed)
	}
	if p1.nresources+p2.nresources != 7 {
		t.Fatalf("combined nresources = %d, want 7 (exactly one entry reclaimed total)", p1.nresources+p2.nresources)
	}
}
