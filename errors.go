package memtier

import "errors"

// ErrOutOfMemory is returned when the page facility backing this
// allocator refuses to hand back any more memory. It is the only
// error an ordinary Allocate call can return.
var ErrOutOfMemory = errors.New("memtier: out of memory")

// ErrTrackerExhausted is never returned by Allocate or Deallocate --
// tracker exhaustion is non-fatal, the allocation still succeeds --
// but is exposed so code that inspects Stats can recognize the
// condition by name rather than reading a bare count.
var ErrTrackerExhausted = errors.New("memtier: span tracker table exhausted, new spans not reclaimable")

// ErrCorruptList is never returned either, for the same reason: a
// free-list scan that exceeds its budget aborts the current sweep and
// retries later rather than failing the caller. See Stats for the
// running count of suspected occurrences.
var ErrCorruptList = errors.New("memtier: free-list scan budget exceeded, corruption suspected")
