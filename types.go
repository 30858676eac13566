// Package taskres implements the task scheduling resource core: a
// reference-counted, lock-sparse, typed pool allocator with lazy identity
// binding, an algebraic requirement expression tree, low-memory
// cooperation, and per-task-group fix/unfix/detach lifecycle semantics.
//
// It is modeled on the Harlequin RIP's SWmulti taskres.c/taskres.h, which
// manages typed resources (bitmap bands, line buffers, halftone contexts,
// backdrop blocks, image expanders, ...) assigned to a hierarchy of task
// groups (job -> page -> sheet -> frame -> band). This package owns the
// resource pools and their accounting; it does not schedule tasks, run
// PDL interpreters, or touch rendering surfaces or file I/O.
package taskres

// ResourceType enumerates the fixed, build-time-known set of resource
// kinds this core manages. The order matters for one historical reason:
// output bands are allocated last, because they are the resource type
// most likely to succeed, so other resource types get first refusal.
type ResourceType int

const (
	LineOut          ResourceType = iota // Output line, in suitable bit-depth.
	Band1                                // Bitmap (1-bit) band.
	Line1                                // Bitmap (1-bit) line.
	BandCT                               // Modular halftone contone band.
	CompositeContext                     // Compositing context.
	BackdropResource                     // Full-size backdrop resource.
	BackdropBlock                        // Compressed backdrop block header.
	CompressDevice                       // Compress device handle.
	ImageExpander                        // Image expansion buffers.
	RLEStates                            // RLE states.
	BandScratch                          // Scratch band, e.g. for a PGB device.
	BandOut                              // Output band, in suitable bit-depth.

	NumResourceTypes // Must be last.
)

func (t ResourceType) String() string {
	switch t {
	case LineOut:
		return "LineOut"
	case Band1:
		return "Band1"
	case Line1:
		return "Line1"
	case BandCT:
		return "BandCT"
	case CompositeContext:
		return "CompositeContext"
	case BackdropResource:
		return "BackdropResource"
	case BackdropBlock:
		return "BackdropBlock"
	case CompressDevice:
		return "CompressDevice"
	case ImageExpander:
		return "ImageExpander"
	case RLEStates:
		return "RLEStates"
	case BandScratch:
		return "BandScratch"
	case BandOut:
		return "BandOut"
	default:
		return "ResourceType(?)"
	}
}

// ResourceID identifies a particular resource instance within a pool.
//
// Conceptually, resources assigned to a task group start out unnamed. When
// a task fixes one, the id it passes becomes associated with the resource
// and the resource is marked in use. When the task unfixes it, the id is
// retained but the resource is marked free; a later fix for the same id
// will prefer that resource if it is still free. The same id may be fixed
// by multiple tasks in the same group simultaneously.
type ResourceID int64

// InvalidID is reserved and must never be passed to Fix.
const InvalidID ResourceID = -1

// ResourceKey identifies a pool instance within a source, for a given
// resource type. For simple resources this is usually just the resource's
// byte size; for complex resources it may be a pointer to shared parameter
// state, compared by a pool's Compare method rather than by identity.
type ResourceKey int64
