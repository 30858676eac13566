package taskres

import "github.com/pkg/errors"

// setMinLocked implements SetMin's core logic with req.mu already held.
// node must be a OpValues leaf. Mirrors node_setmin_locked: lowering the
// minimum is always allowed (low-memory reclamation can happen lazily);
// raising it is refused once the requirement is StateNow, since nothing
// tracks which groups are already provisioned well enough to guarantee
// a later decrease would return the count to zero.
func setMinLocked(node, root *ExprNode, restype ResourceType, minimum uint32) error {
	req := node.req
	oldmin, oldmax := node.minimum[restype], node.maximum[restype]
	rootmin, rootmax := root.minimum[restype], root.maximum[restype]

	switch {
	case minimum < oldmin:
		node.minimum[restype] = minimum
		evaluateNode(root, restype, req.limiter)
	case minimum > oldmin:
		if req.state == StateNow {
			return errors.New("taskres: cannot increase minimum once requirement is ready")
		}
		node.minimum[restype] = minimum
		if minimum > oldmax {
			node.maximum[restype] = minimum
		}
		evaluateNode(root, restype, req.limiter)
	default:
		return nil
	}

	if root.minimum[restype] == rootmin && root.maximum[restype] == rootmax {
		return nil
	}

	pool := req.pools[restype]
	if pool == nil {
		return nil
	}
	if err := pool.update(req.state, rootmin, root.minimum[restype], rootmax, root.maximum[restype]); err != nil {
		node.minimum[restype] = oldmin
		node.maximum[restype] = oldmax
		evaluateNode(root, restype, req.limiter)
		return err
	}
	return nil
}

// SetMin sets node's minimum bound for restype, re-evaluating the tree
// and committing the change against the type's pool. node must be a
// OpValues leaf. If the requirement is StateNow and the new root minimum
// for restype becomes zero, the pool reference for that type is
// released (see DESIGN.md's note on the min=0,max>0 open question).
func (n *ExprNode) SetMin(restype ResourceType, minimum uint32) error {
	req := n.req
	req.mu.Lock()
	defer req.mu.Unlock()

	root := req.root
	err := setMinLocked(n, root, restype, minimum)
	if req.state == StateNow && root.minimum[restype] == 0 {
		req.removePoolLocked(restype)
	}
	return err
}

// MaxMin raises node's minimum bound to minimum if it is currently
// lower, otherwise does nothing. Unlike SetMin, MaxMin never lowers a
// minimum, so it never needs to drop a pool reference.
func (n *ExprNode) MaxMin(restype ResourceType, minimum uint32) error {
	req := n.req
	req.mu.Lock()
	defer req.mu.Unlock()

	if minimum <= n.minimum[restype] {
		return nil
	}
	return setMinLocked(n, req.root, restype, minimum)
}

// setMaxLocked implements SetMax's core logic with req.mu already held.
func setMaxLocked(node, root *ExprNode, restype ResourceType, maximum uint32) error {
	req := node.req
	oldmin, oldmax := node.minimum[restype], node.maximum[restype]
	rootmin, rootmax := root.minimum[restype], root.maximum[restype]

	switch {
	case maximum < oldmax:
		node.maximum[restype] = maximum
		if maximum < node.minimum[restype] {
			node.minimum[restype] = maximum
		}
		evaluateNode(root, restype, req.limiter)
	case maximum > oldmax:
		node.maximum[restype] = maximum
		evaluateNode(root, restype, req.limiter)
	default:
		return nil
	}

	if root.minimum[restype] == rootmin && root.maximum[restype] == rootmax {
		return nil
	}

	pool := req.pools[restype]
	if pool == nil {
		return nil
	}
	if err := pool.update(req.state, rootmin, root.minimum[restype], rootmax, root.maximum[restype]); err != nil {
		node.minimum[restype] = oldmin
		node.maximum[restype] = oldmax
		evaluateNode(root, restype, req.limiter)
		return err
	}
	return nil
}

// SetMax sets node's maximum bound for restype. node must be a OpValues
// leaf. Reducing the maximum below the current minimum also reduces the
// minimum to match (mirroring node_setmax_locked).
func (n *ExprNode) SetMax(restype ResourceType, maximum uint32) error {
	req := n.req
	req.mu.Lock()
	defer req.mu.Unlock()

	root := req.root
	err := setMaxLocked(n, root, restype, maximum)
	if req.state == StateNow && root.minimum[restype] == 0 {
		req.removePoolLocked(restype)
	}
	return err
}

// MinMax sets node's maximum to maximum only if maximum strictly falls
// between the node's current minimum and maximum (i.e. it is a genuine
// narrowing that doesn't also require lowering the minimum).
func (n *ExprNode) MinMax(restype ResourceType, maximum uint32) error {
	req := n.req
	req.mu.Lock()
	defer req.mu.Unlock()

	if !(maximum > n.minimum[restype] && maximum < n.maximum[restype]) {
		return nil
	}
	return setMaxLocked(n, req.root, restype, maximum)
}

// simRetry re-evaluates every resource type's bounds against the root,
// committing each changed type's new bounds to its pool. On the first
// pool update failure it restores smin/smax and re-runs the whole loop
// with the old values, mirroring requirement_node_simmin/simmax's
// "retry" label: since reducing bounds back down is asserted never to
// fail, the second pass is expected to succeed.
func simRetry(node, root *ExprNode, oldmin, oldmax uint32) error {
	req := node.req
	for {
		var failure error
		for restype := ResourceType(0); restype < NumResourceTypes; restype++ {
			rootmin, rootmax := root.minimum[restype], root.maximum[restype]
			evaluateNode(root, restype, req.limiter)
			if root.minimum[restype] == rootmin && root.maximum[restype] == rootmax {
				continue
			}
			pool := req.pools[restype]
			if pool == nil {
				continue
			}
			if err := pool.update(req.state, rootmin, root.minimum[restype], rootmax, root.maximum[restype]); err != nil {
				failure = err
				break
			}
		}
		if failure == nil {
			return nil
		}
		node.smin, node.smax = oldmin, oldmax
		// One retry pass with the restored (smaller) values is expected
		// to succeed, since reducing bounds cannot fail; if it somehow
		// doesn't, report the original failure rather than looping
		// forever.
		stillFailing := false
		for restype := ResourceType(0); restype < NumResourceTypes; restype++ {
			rootmin, rootmax := root.minimum[restype], root.maximum[restype]
			evaluateNode(root, restype, req.limiter)
			if root.minimum[restype] == rootmin && root.maximum[restype] == rootmax {
				continue
			}
			pool := req.pools[restype]
			if pool == nil {
				continue
			}
			if err := pool.update(req.state, rootmin, root.minimum[restype], rootmax, root.maximum[restype]); err != nil {
				stillFailing = true
			}
		}
		if stillFailing {
			assertf(false, "simRetry: restoring old simultaneity bounds failed")
		}
		return failure
	}
}

// SimMin raises the node's simultaneity-minimum bound: the number of
// instances of this subtree's task that may be required to run at once.
// node must not be the tree root. Only increases are accepted; an
// increase also raises smax to match if smax was lower.
func (n *ExprNode) SimMin(minimum uint32) error {
	req := n.req
	req.mu.Lock()
	defer req.mu.Unlock()

	root := req.root
	assertf(n != root, "SimMin: cannot set simultaneous minimum on root node")

	if minimum <= n.smin {
		return nil
	}
	oldmin, oldmax := n.smin, n.smax
	n.smin = minimum
	if minimum > n.smax {
		n.smax = minimum
	}
	return simRetry(n, root, oldmin, oldmax)
}

// SimMax raises the node's simultaneity-maximum bound. node must not be
// the tree root. Only increases are accepted.
func (n *ExprNode) SimMax(maximum uint32) error {
	req := n.req
	req.mu.Lock()
	defer req.mu.Unlock()

	root := req.root
	assertf(n != root, "SimMax: cannot set simultaneous maximum on root node")

	if maximum <= n.smax {
		return nil
	}
	oldmin, oldmax := n.smin, n.smax
	n.smax = maximum
	return simRetry(n, root, oldmin, oldmax)
}
