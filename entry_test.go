package taskres

import "testing"

func TestCreateFreeEntry(t *testing.T) {
	ops := &fakePoolOps{key: 1}
	e, err := createEntry(ops, 1, lowMemCosts[2])
	if err != nil {
		t.Fatalf("createEntry: %v", err)
	}
	if e.State() != Free {
		t.Fatalf("state = %s, want Free", e.State())
	}
	if e.id != InvalidID {
		t.Fatalf("id = %d, want InvalidID", e.id)
	}
	if e.Resource() == nil {
		t.Fatal("Resource() = nil, want allocated payload")
	}

	if err := freeEntry(ops, e); err != nil {
		t.Fatalf("freeEntry: %v", err)
	}
	if ops.frees != 1 {
		t.Fatalf("frees = %d, want 1", ops.frees)
	}
	if e.Resource() != nil {
		t.Fatal("Resource() after free should be nil")
	}
}

func TestCreateEntryAllocFailure(t *testing.T) {
	ops := &fakePoolOps{key: 1, failAt: 1}
	if _, err := createEntry(ops, 1, lowMemCosts[2]); err != ErrOutOfMemory {
		t.Fatalf("createEntry err = %v, want ErrOutOfMemory", err)
	}
}

func TestFreeEntryRequiresFreeState(t *testing.T) {
	ops := &fakePoolOps{key: 1}
	e, err := createEntry(ops, 1, lowMemCosts[2])
	if err != nil {
		t.Fatalf("createEntry: %v", err)
	}
	e.state.Store(int32(Fixed))
	if err := freeEntry(ops, e); err != ErrInvariant {
		t.Fatalf("freeEntry on a Fixed entry = %v, want ErrInvariant", err)
	}
}

func TestEntryStateStrings(t *testing.T) {
	cases := []struct {
		s    EntryState
		want string
	}{
		{Free, "Free"},
		{FixMe, "FixMe"},
		{Fixing, "Fixing"},
		{Fixed, "Fixed"},
		{Detached, "Detached"},
		{EntryState(99), "EntryState(?)"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("%v.String() = %q, want %q", int32(c.s), got, c.want)
		}
	}
}
