package taskres

import "testing"

type fakeRegistry struct {
	registered   map[Tier]int
	deregistered map[Tier]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{registered: map[Tier]int{}, deregistered: map[Tier]int{}}
}

func (r *fakeRegistry) Register(tier Tier, handler LowMemHandler)   { r.registered[tier]++ }
func (r *fakeRegistry) Deregister(tier Tier, handler LowMemHandler) { r.deregistered[tier]++ }

func TestSourceRegistersBothTiers(t *testing.T) {
	reg := newFakeRegistry()
	src := NewSource(nil, reg, func(typ ResourceType, key ResourceKey) (PoolOps, bool, error) {
		return &fakePoolOps{key: key}, true, nil
	})
	if reg.registered[TierRAM] != 1 || reg.registered[TierReservePool] != 1 {
		t.Fatalf("registered = %v, want one registration per tier", reg.registered)
	}
	src.Release()
	if reg.deregistered[TierRAM] != 1 || reg.deregistered[TierReservePool] != 1 {
		t.Fatalf("deregistered = %v, want one deregistration per tier", reg.deregistered)
	}
}

func TestSourceGetPoolReusesMatchingPool(t *testing.T) {
	var built int
	src := NewSource(nil, nil, func(typ ResourceType, key ResourceKey) (PoolOps, bool, error) {
		built++
		return &fakePoolOps{key: key}, true, nil
	})

	p1, err := src.GetPool(LineOut, 42)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	p2, err := src.GetPool(LineOut, 42)
	if err != nil {
		t.Fatalf("GetPool (second): %v", err)
	}
	if p1 != p2 {
		t.Fatal("GetPool with the same (type, key) should return the same pool")
	}
	if built != 1 {
		t.Fatalf("built = %d, want 1 (second call should reuse, not rebuild)", built)
	}
}

func TestSourceGetPoolDistinguishesKeys(t *testing.T) {
	src := NewSource(nil, nil, func(typ ResourceType, key ResourceKey) (PoolOps, bool, error) {
		return &fakePoolOps{key: key}, true, nil
	})
	p1, err := src.GetPool(LineOut, 1)
	if err != nil {
		t.Fatalf("GetPool(1): %v", err)
	}
	p2, err := src.GetPool(LineOut, 2)
	if err != nil {
		t.Fatalf("GetPool(2): %v", err)
	}
	if p1 == p2 {
		t.Fatal("GetPool with different keys should return different pools")
	}
}

func TestSourceGetPoolPropagatesMakePoolError(t *testing.T) {
	wantErr := ErrOutOfMemory
	src := NewSource(nil, nil, func(typ ResourceType, key ResourceKey) (PoolOps, bool, error) {
		return nil, false, wantErr
	})
	if _, err := src.GetPool(LineOut, 1); err == nil {
		t.Fatal("GetPool should propagate a makePool failure")
	}
}
