package freelist

import "testing"

func TestChainPushPopHead(t *testing.T) {
	var c Chain

	for i := int32(0); i < 20; i++ {
		c.PushHead(i)
	}

	seen := make(map[int32]bool)
	for i := 0; i < 20; i++ {
		v, ok := c.PopHead()
		if !ok {
			t.Fatalf("expected a value at pop %d", i)
		}
		seen[v] = true
	}
	if len(seen) != 20 {
		t.Fatalf("expected 20 distinct values, got %d", len(seen))
	}
	if _, ok := c.PopHead(); ok {
		t.Fatal("expected chain to be empty")
	}
}

func TestChainPushHeadPopTail(t *testing.T) {
	var c Chain

	for i := int32(0); i < 5; i++ {
		c.PushHead(i)
	}

	// popTail drains in FIFO order relative to pushHead.
	first, ok := c.PopTail()
	if !ok || first != 0 {
		t.Fatalf("expected first pushed value 0, got %d ok=%v", first, ok)
	}
}

func TestChainGrowsAcrossRings(t *testing.T) {
	var c Chain

	const n = 100
	for i := int32(0); i < n; i++ {
		c.PushHead(i)
	}

	count := 0
	for {
		if _, ok := c.PopTail(); !ok {
			break
		}
		count++
	}
	if count != n {
		t.Fatalf("expected to drain %d hints, got %d", n, count)
	}
}

func TestChainZeroIndexSurvivesOffset(t *testing.T) {
	var c Chain
	c.PushHead(0)
	v, ok := c.PopHead()
	if !ok || v != 0 {
		t.Fatalf("expected to recover slot index 0, got %d ok=%v", v, ok)
	}
}
