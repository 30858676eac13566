package taskres

import "testing"

func newTestEntry(id ResourceID) *Entry {
	e := &Entry{id: id, resource: "x"}
	e.state.Store(int32(Fixed))
	return e
}

func TestLookupInsertFind(t *testing.T) {
	l := newLookup(lookupSize(8))
	ids := []ResourceID{1, 2, 3, 17, 100}
	entries := make(map[ResourceID]*Entry, len(ids))
	for _, id := range ids {
		e := newTestEntry(id)
		l.insert(e)
		entries[id] = e
	}

	for id, want := range entries {
		got := l.find(id)
		if got != want {
			t.Fatalf("find(%d) = %v, want %v", id, got, want)
		}
	}
	if got := l.find(999); got != nil {
		t.Fatalf("find(999) = %v, want nil", got)
	}
}

func TestLookupFindMatchesFreeEntry(t *testing.T) {
	l := newLookup(lookupSize(8))
	e := newTestEntry(5)
	l.insert(e)
	e.state.Store(int32(Free))

	// find still returns a Free entry whose id matches: Unfix leaves
	// entry.id set precisely so a later Fix for the same id can reuse its
	// cached resource (see lookup.go's find doc comment and Pool.Fix's
	// Free case).
	if got := l.find(5); got != e {
		t.Fatalf("find(5) = %v, want %v (Free entry still matches by id)", got, e)
	}
}

// TestLookupFindSurvivesRebind exercises the reasoning in lookup.go's
// find doc comment: an entry's slot never moves, even when its id
// changes, so a hole elsewhere in the table must never cause find to
// give up early.
func TestLookupFindSurvivesRebind(t *testing.T) {
	n := lookupSize(8)
	l := newLookup(n)

	a := newTestEntry(1)
	b := newTestEntry(2)
	l.insert(a)
	l.insert(b)

	// Rebind a to a brand new id in place, the way Fix would, without
	// touching its slot.
	a.id = 42

	if got := l.find(42); got != a {
		t.Fatalf("find(42) = %v, want %v", got, a)
	}
	if got := l.find(2); got != b {
		t.Fatalf("find(2) = %v, want %v", got, b)
	}
	if got := l.find(1); got != nil {
		t.Fatalf("find(1) = %v, want nil (rebound away)", got)
	}
}

func TestLookupForEachCount(t *testing.T) {
	l := newLookup(lookupSize(16))
	for i := ResourceID(0); i < 5; i++ {
		l.insert(newTestEntry(i))
	}
	if got := l.count(); got != 5 {
		t.Fatalf("count() = %d, want 5", got)
	}
	seen := 0
	l.forEach(func(e *Entry) { seen++ })
	if seen != 5 {
		t.Fatalf("forEach visited %d entries, want 5", seen)
	}
}

func TestLookupNilSafe(t *testing.T) {
	var l *Lookup
	if got := l.find(1); got != nil {
		t.Fatalf("nil.find(1) = %v, want nil", got)
	}
	if got := l.count(); got != 0 {
		t.Fatalf("nil.count() = %d, want 0", got)
	}
	l.forEach(func(e *Entry) { t.Fatal("forEach on nil lookup should not call fn") })
}
