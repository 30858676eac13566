// Package xruntime exposes the runtime processor-pinning primitives that
// taglock uses to keep a goroutine from being preempted mid-spinlock.
//
// Adapted from github.com/NikoMalik/sync_pool's lib_golang.go: the same
// go:linkname tricks, repurposed from per-P local-pool indexing to simple
// preemption avoidance around short spinlocked sections.
package xruntime

import (
	_ "unsafe" // for go:linkname
)

// ProcPin pins the calling goroutine to its current P, disabling
// preemption, and returns the id of that P. The caller must call
// ProcUnpin once it is done with the pinned section.
//
//go:linkname ProcPin runtime.procPin
func ProcPin() int

// ProcUnpin unpins the calling goroutine, allowing preemption again.
//
//go:linkname ProcUnpin runtime.procUnpin
func ProcUnpin()

// FastRandN returns a fast, non-cryptographic random number in [0, n).
// taglock's spin loop does not use it.
//
//go:linkname FastRandN runtime.fastrandn
func FastRandN(n uint32) uint32

// Pid returns the id of the P the calling goroutine is currently
// running on, without leaving it pinned.
func Pid() int {
	id := ProcPin()
	ProcUnpin()
	return id
}
