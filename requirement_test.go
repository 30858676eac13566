package taskres

import "testing"

func TestRequirementSetPoolAndState(t *testing.T) {
	req := newTestRequirement()
	req.root = req.NewNode(NodeRoot, OpSum)
	leaf := req.NewNode(NodeIDForGroup(GroupJob), OpValues)
	if err := leaf.SetMin(LineOut, 2); err != nil {
		t.Fatalf("SetMin: %v", err)
	}
	if err := leaf.SetMax(LineOut, 2); err != nil {
		t.Fatalf("SetMax: %v", err)
	}

	p, ops := newTestPool(t, 1)
	if err := req.SetPool(LineOut, p); err != nil {
		t.Fatalf("SetPool: %v", err)
	}
	// pool_update eagerly allocates up to the combined Now/Future maximum
	// regardless of requirement state, so the two entries exist already.
	if ops.allocs != 2 {
		t.Fatalf("allocs after SetPool = %d, want 2", ops.allocs)
	}

	if err := req.SetState(StateNow); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if ops.allocs != 2 {
		t.Fatalf("allocs after SetState(Now) = %d, want still 2 (no new headroom added)", ops.allocs)
	}

	p2, _ := newTestPool(t, 2)
	if err := req.SetPool(Band1, p2); err == nil {
		t.Fatal("SetPool after StateNow should fail")
	}
}

func TestRequirementSetPoolRejectsWhenNow(t *testing.T) {
	req := newTestRequirement()
	req.root = req.NewNode(NodeRoot, OpSum)
	if err := req.SetState(StateNow); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	p, _ := newTestPool(t, 1)
	if err := req.SetPool(LineOut, p); err == nil {
		t.Fatal("SetPool once StateNow should be rejected")
	}
}

func TestRequirementCopyPreservesBoundsDropsSim(t *testing.T) {
	req := newTestRequirement()
	req.root = req.NewNode(NodeRoot, OpSum)
	leaf := req.NewNode(NodeIDForGroup(GroupJob), OpValues)
	if err := leaf.SetMin(LineOut, 1); err != nil {
		t.Fatalf("SetMin: %v", err)
	}
	if err := leaf.SetMax(LineOut, 4); err != nil {
		t.Fatalf("SetMax: %v", err)
	}
	if err := leaf.SimMin(2); err != nil {
		t.Fatalf("SimMin: %v", err)
	}

	clone, err := req.Copy(StateFuture)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	cloneLeaf := clone.FindNode(NodeIDForGroup(GroupJob))
	if cloneLeaf == nil {
		t.Fatal("clone missing copied leaf node")
	}
	if cloneLeaf.Minimum(LineOut) != 1 || cloneLeaf.Maximum(LineOut) != 4 {
		t.Fatalf("clone bounds = %d/%d, want 1/4", cloneLeaf.Minimum(LineOut), cloneLeaf.Maximum(LineOut))
	}
	if cloneLeaf.smin != 1 || cloneLeaf.smax != 1 {
		t.Fatalf("clone smin/smax = %d/%d, want 1/1 (dropped on copy)", cloneLeaf.smin, cloneLeaf.smax)
	}
}

func TestRequirementReleaseTearsDownTree(t *testing.T) {
	req := newTestRequirement()
	req.root = req.NewNode(NodeRoot, OpSum)
	_ = req.NewNode(NodeIDForGroup(GroupJob), OpValues)
	_ = req.NewNode(NodeIDForGroup(GroupPage), OpValues)

	p, ops := newTestPool(t, 1)
	if err := req.SetPool(LineOut, p); err != nil {
		t.Fatalf("SetPool: %v", err)
	}
	req.Release()
	if req.root != nil {
		t.Fatal("root should be nil once the last reference is released")
	}
	if ops.finishes != 1 {
		t.Fatalf("finishes = %d, want 1 (requirement held the only pool reference)", ops.finishes)
	}
}
