// Package api defines the external contract between memtier's façade
// and its three tiers. Applications normally never import this package
// directly -- they call memtier.Allocate/memtier.Deallocate -- but it
// is exported so an embedder can type-assert against it, or substitute
// a tier implementation of their own when testing.
package api

import "unsafe"

// Allocator is the façade contract: route a byte count to whichever
// tier (or the system allocator, for oversize requests) can serve it.
type Allocator interface {
	// Allocate n bytes, returning an address aligned to at least the
	// word size. The error is non-nil only when every tier below it
	// failed to produce memory (page-facility exhaustion), in which
	// case the returned pointer is nil.
	Allocate(n int64) (unsafe.Pointer, error)

	// Deallocate a block previously returned by Allocate. n MUST match
	// the size passed to the Allocate call that produced ptr -- the
	// allocator keeps no per-block header and trusts the caller.
	Deallocate(ptr unsafe.Pointer, n int64)
}

// Stats is the footprint shape the façade reports, filled from the
// page and central tiers' own counters (see memtier.Stats).
type Stats struct {
	// Capacity is the total bytes the page tier has obtained from the
	// OS page facility. Oversize allocations, which bypass the page
	// tier, are not counted.
	Capacity int64
	// Allocated is the subset of Capacity the page tier has handed out
	// as spans. It includes blocks sitting free in the central and
	// thread tiers, not only blocks held by callers.
	Allocated int64
	// Available is Capacity - Allocated: bytes sitting free in the page
	// tier.
	Available int64
	// Overhead is the memory taken by the span-tracker slots in use.
	// Span records and free-list length counters are not counted.
	Overhead int64
}
