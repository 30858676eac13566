package taskres

import "github.com/pkg/errors"

// Fix binds id to a resource of the given type and returns it, fixing it
// for the duration until a matching Unfix. A second Fix of the same id
// from within the same group (typically from a second task in the same
// group) joins the first fix's reference rather than claiming a second
// entry — matching the documented "same id may be fixed by multiple
// tasks in the same group simultaneously" behavior. Across groups, id is
// resolved against the type's pool, which may hand back an entry another
// group already holds if that entry is already bound to id (see
// Pool.Fix).
//
// The C original's task_resource_fix is not present in this retrieval
// pack (only its declaration in taskres.h); this locality/refcounting
// scheme is an inferred port, documented in DESIGN.md.
func (g *Group) Fix(restype ResourceType, id ResourceID) (*Entry, error) {
	if g.Requirement.State() != StateNow {
		return nil, ErrNotReady
	}
	g.mu.Lock()
	if m := g.fixed[restype]; m != nil {
		if fe, ok := m[id]; ok {
			entry, pool := fe.entry, fe.pool
			needsRefix := entry.State() == Detached
			fe.refcount++
			g.mu.Unlock()

			if needsRefix {
				// Another Fix from this group had detached id; bring it back
				// to Fixed through the pool rather than handing back a
				// still-Detached entry (Pool.Detach's doc comment: "a later
				// Fix of the same id ... transitions it straight back to
				// Fixed").
				if _, _, err := pool.Fix(id, g.ancestorOwners()); err != nil {
					g.mu.Lock()
					fe.refcount--
					g.mu.Unlock()
					return nil, errors.Wrap(err, "taskres: group fix: re-fix detached entry")
				}
			}
			return entry, nil
		}
	}
	g.mu.Unlock()

	pool := g.Requirement.GetPool(restype)
	if pool == nil {
		return nil, errors.Wrapf(ErrUnavailable, "taskres: group fix: no pool set for %s", restype)
	}

	entry, _, err := pool.Fix(id, g.ancestorOwners())
	if err != nil {
		pool.Release()
		return nil, errors.Wrap(err, "taskres: group fix")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.fixed[restype]
	if m == nil {
		m = make(map[ResourceID]*fixedEntry)
		g.fixed[restype] = m
	}
	if fe, ok := m[id]; ok {
		// Another task in this group fixed the same id between our first
		// unlock above and now; join its reference instead of holding a
		// second pool reference for the same group binding.
		fe.refcount++
		pool.Release()
		return fe.entry, nil
	}
	m[id] = &fixedEntry{pool: pool, entry: entry, refcount: 1}
	return entry, nil
}

// FixN fixes every id in ids for restype, in order. If any fix fails,
// every id fixed earlier in this call is unwound (via Unfix) before the
// error is returned, so a caller never has to distinguish a partial
// failure from a total one.
func (g *Group) FixN(restype ResourceType, ids []ResourceID) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(ids))
	for i, id := range ids {
		entry, err := g.Fix(restype, id)
		if err != nil {
			for _, undo := range ids[:i] {
				_ = g.Unfix(restype, undo)
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Unfix drops this group's reference to id's fixed resource. Once the
// last reference from this group is dropped, the entry is returned to
// its pool (via Pool.Unfix) and the pool reference this group took when
// it first fixed id is released.
func (g *Group) Unfix(restype ResourceType, id ResourceID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.fixed[restype]
	if m == nil {
		return ErrNotFixed
	}
	fe, ok := m[id]
	if !ok {
		return ErrNotFixed
	}
	fe.refcount--
	if fe.refcount > 0 {
		return nil
	}
	fe.pool.Unfix(fe.entry)
	fe.pool.Release()
	delete(m, id)
	return nil
}

// Detach marks id's resource detached: it keeps its binding to this
// group (Fix of the same id from within this group still joins it) but
// becomes eligible to be handed to another group entirely once this
// group unfixes it, rather than staying reserved to this group's
// lifetime. A detached resource still requires an explicit Unfix to
// return to its pool.
func (g *Group) Detach(restype ResourceType, id ResourceID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.fixed[restype]
	if m == nil {
		return ErrNotFixed
	}
	fe, ok := m[id]
	if !ok {
		return ErrNotFixed
	}
	fe.pool.Detach(fe.entry)
	return nil
}
