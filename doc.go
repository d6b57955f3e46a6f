// Package memtier implements a general-purpose, multi-threaded
// small-object allocator organized as a three-tier cache: a per-caller
// cache (threadcache) backed by a concurrent central free-list
// (centralcache), in turn backed by a page tier (pagecache) that maps
// and coalesces spans obtained from an injectable Mapper.
//
// Call New to construct an Allocator, then Allocate/Deallocate exactly
// as a malloc/free pair, matching sizes on both ends -- the allocator
// keeps no per-block header and trusts the caller.
package memtier
