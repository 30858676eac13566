package taskres

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// State is the readiness of a resource requirement.
type State int

const (
	// StateFuture means the requirement's expression tree may still be
	// edited, but no task group using it will be provisioned yet.
	StateFuture State = iota

	// StateNow means the requirement is ready: its bounds are fixed
	// against its pools and task groups using it may be scheduled.
	StateNow

	// StateNever means the requirement's bounds are not counted against
	// any pool at all. Used transiently by Copy to build a tree without
	// double-counting against the source pools, then transitioned to
	// the caller's requested state.
	StateNever
)

func (s State) String() string {
	switch s {
	case StateFuture:
		return "Future"
	case StateNow:
		return "Now"
	case StateNever:
		return "Never"
	default:
		return "State(?)"
	}
}

// Requirement is a reference-counted, per-task-group-hierarchy
// description of how many of each resource type may be needed, encoded
// as an expression tree over task group types. A requirement starts in
// StateFuture with an empty tree; SetState(StateNow) commits its bounds
// against the resource pools set with SetPool and makes it usable for
// provisioning task groups.
type Requirement struct {
	refcount atomic.Int64

	mu    sync.Mutex
	state State
	root  *ExprNode
	pools [NumResourceTypes]*Pool

	limiter ThreadLimiter
}

// NewRequirement creates a requirement in StateFuture with an empty
// expression tree and a single reference, which the caller owns.
func NewRequirement(limiter ThreadLimiter) *Requirement {
	if limiter == nil {
		limiter = NewStaticThreadLimiter(1)
	}
	r := &Requirement{state: StateFuture, limiter: limiter}
	r.refcount.Store(1)
	return r
}

// Acquire returns r with an extra reference taken. Every Acquire must be
// matched with a Release.
func (r *Requirement) Acquire() *Requirement {
	before := r.refcount.Add(1) - 1
	assertf(before > 0, "Requirement.Acquire: already released")
	return r
}

// State returns the requirement's current readiness.
func (r *Requirement) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// NewNode creates and inserts a new expression node with the given id
// and operator, returning it. The new node starts with zero bounds and
// smin=smax=1.
func (r *Requirement) NewNode(id NodeID, op Op) *ExprNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return newExprNode(r, id, op)
}

// FindNode returns the node with the given id, or nil if not present.
func (r *Requirement) FindNode(id NodeID) *ExprNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return findNodeID(r.root, id)
}

// SetPool sets the resource pool used for restype by this requirement.
// pool's reference is taken over by the requirement regardless of the
// outcome: on failure the caller's reference is still consumed (it is
// released internally). Must not be called once the requirement is
// StateNow.
func (r *Requirement) SetPool(restype ResourceType, pool *Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateNow {
		pool.Release()
		return errors.New("taskres: cannot change pool once requirement is ready")
	}

	if pool == r.pools[restype] {
		pool.Release()
		return nil
	}

	root := r.root
	var rootMin, rootMax uint32
	if root != nil {
		rootMin, rootMax = root.minimum[restype], root.maximum[restype]
	}

	if err := pool.update(r.state, 0, rootMin, 0, rootMax); err != nil {
		pool.Release()
		return errors.Wrap(err, "taskres: set resource pool")
	}

	if old := r.pools[restype]; old != nil {
		if err := old.update(r.state, rootMin, 0, rootMax, 0); err != nil {
			assertf(false, "SetPool: unexpected failure reducing old pool bounds: %v", err)
		}
		old.Release()
	}
	r.pools[restype] = pool
	return nil
}

// GetPool returns a new reference to the pool set for restype, or nil.
func (r *Requirement) GetPool(restype ResourceType) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pool := r.pools[restype]
	if pool != nil {
		pool = pool.Acquire()
	}
	return pool
}

// removePoolLocked drops the pool reference for restype, reducing its
// min/max contribution to zero first. Called either while tearing down
// the requirement (refcount 0) or when SetState(StateNow) finds a zero
// minimum for restype. The caller must hold r.mu.
func (r *Requirement) removePoolLocked(restype ResourceType) {
	pool := r.pools[restype]
	if pool == nil {
		return
	}
	root := r.root
	var rootMin, rootMax uint32
	if root != nil {
		rootMin, rootMax = root.minimum[restype], root.maximum[restype]
	}
	if err := pool.update(r.state, rootMin, 0, rootMax, 0); err != nil {
		assertf(false, "removePoolLocked: unexpected failure reducing pool bounds: %v", err)
	}
	pool.Release()
	r.pools[restype] = nil
}

// Release drops a reference. At zero refcount the requirement's pool
// references are dropped (reducing their bounds to zero) and the
// expression tree is torn down iteratively by right-rotation, mirroring
// resource_requirement_release's non-recursive teardown.
func (r *Requirement) Release() {
	after := r.refcount.Add(-1)
	assertf(after >= 0, "Requirement.Release: already released")
	if after != 0 {
		return
	}

	r.mu.Lock()
	for restype := ResourceType(0); restype < NumResourceTypes; restype++ {
		r.removePoolLocked(restype)
	}
	root := r.root
	r.root = nil
	r.mu.Unlock()

	for node := root; node != nil; {
		left := node.left
		if left != nil {
			node.left = left.right
			left.right = node
			node = left
		} else {
			node = node.right
		}
	}
}

// SetState transitions the requirement to state, committing the bounds
// of every resource type's pool against the new state and removing them
// from the old one. On failure the requirement is left unchanged (all
// partial pool updates from phase 1 are unwound) and state != req.state
// remains. Follows resource_pool_update's three-phase commit: first try
// to add the bounds under the new state for every type (unwinding on any
// failure), then remove them from the old state (asserted to never
// fail, since reducing bounds cannot fail), then drop pool references
// for any type whose minimum is now zero, if transitioning to StateNow.
func (r *Requirement) SetState(state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == state {
		return nil
	}

	root := r.root

	// Phase 1: add to new state.
	for restype := ResourceType(0); restype < NumResourceTypes; restype++ {
		pool := r.pools[restype]
		if pool == nil {
			continue
		}
		var rmin, rmax uint32
		if root != nil {
			rmin, rmax = root.minimum[restype], root.maximum[restype]
		}
		if err := pool.update(state, 0, rmin, 0, rmax); err != nil {
			for undo := restype; undo > 0; {
				undo--
				p := r.pools[undo]
				if p == nil {
					continue
				}
				var umin, umax uint32
				if root != nil {
					umin, umax = root.minimum[undo], root.maximum[undo]
				}
				if uerr := p.update(state, umin, 0, umax, 0); uerr != nil {
					assertf(false, "SetState: unwind failed: %v", uerr)
				}
			}
			return errors.Wrap(err, "taskres: set requirement state")
		}
	}

	// Phase 2: remove from old state.
	for restype := ResourceType(0); restype < NumResourceTypes; restype++ {
		pool := r.pools[restype]
		if pool == nil {
			continue
		}
		var rmin, rmax uint32
		if root != nil {
			rmin, rmax = root.minimum[restype], root.maximum[restype]
		}
		if err := pool.update(r.state, rmin, 0, rmax, 0); err != nil {
			assertf(false, "SetState: phase 2 reduction failed: %v", err)
		}
	}

	r.state = state

	// Phase 3: drop pool references for types with no minimum, now that
	// the requirement is ready and its minimum can never grow again. Per
	// the open question recorded in DESIGN.md, the original (and this
	// port) keys this off minimum == 0 regardless of maximum.
	if state == StateNow && root != nil {
		for restype := ResourceType(0); restype < NumResourceTypes; restype++ {
			if root.minimum[restype] == 0 {
				r.removePoolLocked(restype)
			}
		}
	}

	return nil
}

// copyNode recursively duplicates node's subtree into dst, using the
// same right-then-left tail-call-shaped order as insertNode so the
// copy's tree structure matches the original's. The caller must hold
// dst.mu.
func copyNode(node *ExprNode, dst *Requirement) bool {
	for node != nil {
		n := newExprNode(dst, node.id, node.op)
		n.minimum = node.minimum
		n.maximum = node.maximum
		// Simultaneity bounds are intentionally not copied: a clone
		// starts at smin=smax=1, matching requirement_node_copy which
		// drops simultaneity guarantees on copy (a fresh requirement
		// must re-declare them via SimMin/SimMax).

		if node.right != nil && !copyNode(node.right, dst) {
			return false
		}
		node = node.left
	}
	return true
}

// Copy clones r's expression tree and pool references into a new
// requirement in the given target state. The clone is built in
// StateNever first so that its initial pool-reference acquisition does
// not double-count against the shared pools, then transitioned to state
// — mirroring resource_requirement_copy's rationale exactly. On failure
// nil is returned and no new requirement escapes.
func (r *Requirement) Copy(state State) (*Requirement, error) {
	r.mu.Lock()
	pools := r.pools
	root := r.root
	r.mu.Unlock()

	dst := NewRequirement(r.limiter)
	dst.state = StateNever

	dst.mu.Lock()
	for restype, pool := range pools {
		if pool != nil {
			dst.pools[restype] = pool.Acquire()
		}
	}
	ok := copyNode(root, dst)
	dst.mu.Unlock()

	if !ok {
		dst.Release()
		return nil, ErrOutOfMemory
	}
	if err := dst.SetState(state); err != nil {
		dst.Release()
		return nil, err
	}
	return dst, nil
}
