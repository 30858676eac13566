package taskres

import "sync"

// GroupType enumerates the task group hierarchy this resource core
// provisions for. Recovered from taskt.h's TASK_GROUP_TYPES set; the
// distilled job->page->sheet->frame->band chain is only the "normal"
// path through this set. Complete and Erase are synchronization-only
// group types (they join tasks for job/page completion and carry no
// resource requirement of their own); Orphans holds groups whose tasks
// finished but which still have outstanding external references.
type GroupType int

const (
	GroupRoot GroupType = iota
	GroupJob
	GroupComplete
	GroupPage
	GroupRender
	GroupErase
	GroupSheet
	GroupFrame
	GroupBand
	GroupTrap
	GroupOrphans

	numGroupTypes
)

func (t GroupType) String() string {
	switch t {
	case GroupRoot:
		return "Root"
	case GroupJob:
		return "Job"
	case GroupComplete:
		return "Complete"
	case GroupPage:
		return "Page"
	case GroupRender:
		return "Render"
	case GroupErase:
		return "Erase"
	case GroupSheet:
		return "Sheet"
	case GroupFrame:
		return "Frame"
	case GroupBand:
		return "Band"
	case GroupTrap:
		return "Trap"
	case GroupOrphans:
		return "Orphans"
	default:
		return "GroupType(?)"
	}
}

// NodeID identifies a node in a requirement expression tree. The
// per-group-type ids mirror EXPR_ID_FOR_GROUP in the original, which
// ties requirement node ids directly to the task group type requesting
// provisioning; the remaining ids cover the fixed synthetic nodes every
// requirement tree is expected to carry (a root sum, a page-scoped
// addition point, and a calculation/limit node).
type NodeID int

const (
	NodeRoot NodeID = iota
	NodePageLimit
	NodePageAdd
	NodeCalculate

	nodeIDForGroup // offset; NodeIDForGroup(t) = nodeIDForGroup + NodeID(t)
)

// NodeIDForGroup returns the expression node id reserved for t.
func NodeIDForGroup(t GroupType) NodeID {
	return nodeIDForGroup + NodeID(t)
}

// Group is the minimal view this package needs of a task group: its
// place in the group hierarchy, the requirement governing its resource
// provisioning, and a per-type lookup table of resources it currently
// holds. The task executor that actually schedules and joins groups is
// out of scope for this package; Group exists here only so Fix/FixN/
// Unfix/Detach have a concrete receiver to exercise the resource core
// end to end.
type Group struct {
	Type        GroupType
	Parent      *Group
	Requirement *Requirement

	mu sync.Mutex

	// fixed holds, per resource type, the entries this group currently
	// has fixed or detached, keyed by ResourceID. A nil map means no
	// entries of that type have ever been fixed. Guarded by mu, since
	// tasks within the same group may fix/unfix concurrently.
	fixed [NumResourceTypes]map[ResourceID]*fixedEntry
}

// fixedEntry pairs a lookup-table entry with the pool it came from, so
// Unfix/Detach can operate without re-deriving the pool from the
// group's requirement. refcount lets multiple tasks within the same
// group share one fix of the same id: Fix increments it, Unfix
// decrements it, and only the last Unfix actually returns the entry to
// the pool.
type fixedEntry struct {
	pool     *Pool
	entry    *Entry
	refcount int
}

// NewGroup creates a task group of the given type under parent (nil for
// a root group), governed by req. req's reference is acquired; the
// caller retains ownership of its own reference.
func NewGroup(t GroupType, parent *Group, req *Requirement) *Group {
	g := &Group{Type: t, Parent: parent, Requirement: req.Acquire()}
	return g
}

// ancestorOwners walks from g up through Parent, used as the locality
// preference order when searching for a Free entry to repurpose: prefer
// an entry already owned by this group, then its nearest ancestor, and
// so on, before falling back to any Free entry regardless of owner.
func (g *Group) ancestorOwners() []any {
	owners := make([]any, 0, 4)
	for cur := g; cur != nil; cur = cur.Parent {
		owners = append(owners, any(cur))
	}
	return owners
}
