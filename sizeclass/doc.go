// Package sizeclass implements the allocator's size-class table: pure
// functions mapping a requested byte count to a class index, a class's
// block size, and a per-class batch hint for thread-tier refills.
//
// Nothing here is stateful and nothing here can fail -- every function
// is total over its documented domain.
package sizeclass
