package taskres

import "errors"

// Sentinel errors returned (optionally wrapped via github.com/pkg/errors
// at construction boundaries) by this package's operations.
var (
	// ErrOutOfMemory is returned when the MM subsystem could not satisfy
	// an allocation. Whether that is fatal depends on the caller: failing
	// to meet a pool's minimum during pool_update is a hard failure,
	// failing above minimum is not.
	ErrOutOfMemory = errors.New("taskres: out of memory")

	// ErrInvariant signals a broken internal invariant (a programming
	// error, not a resource-exhaustion condition). In debug builds
	// (-tags taskresdebug) these are also asserted via panic at the
	// point of detection; release builds just return the error.
	ErrInvariant = errors.New("taskres: invariant violated")

	// ErrUnavailable is returned when a resource pool cannot currently
	// satisfy a fix request but might later (the pool is between its
	// minimum and maximum, or over maximum but not yet over promisemax).
	// Callers are expected to retry, typically with a smaller id set via
	// FixN's incremental-retry contract.
	ErrUnavailable = errors.New("taskres: resource temporarily unavailable")

	// ErrNotReady is returned by Fix/FixN when the requirement governing
	// the target pool has not yet transitioned to StateNow.
	ErrNotReady = errors.New("taskres: requirement not in Now state")

	// ErrNoSuchNode names the case of a requirement expression node id
	// that cannot be found in the tree. Requirement.FindNode reports that
	// case by returning nil, not this error.
	ErrNoSuchNode = errors.New("taskres: no such requirement node")

	// ErrInvalidID is returned when InvalidID is passed where a concrete
	// resource id is required.
	ErrInvalidID = errors.New("taskres: invalid resource id")

	// ErrNotFixed is returned by Group.Unfix/Detach when the given id has
	// not been fixed by this group.
	ErrNotFixed = errors.New("taskres: resource id not fixed by this group")
)
