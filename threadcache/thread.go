// Package threadcache implements the top tier of the allocator: a
// per-caller cache of free blocks, indexed by size class, that needs
// no synchronization of its own because exactly one caller ever
// touches a given Cache at a time.
//
// Go has no OS-thread-local storage a goroutine can rely on (a
// goroutine may migrate between OS threads between blocking points),
// so memtier hands out Cache values from a sync.Pool, borrowed for the
// duration of a single Allocate or Deallocate call, rather than from a
// true per-OS-thread slot.
// See the memtier package for how Cache instances are borrowed and
// returned.
package threadcache

import (
	"unsafe"

	s "github.com/bnclabs/gosettings"

	"github.com/bnclabs/memtier/centralcache"
	"github.com/bnclabs/memtier/sizeclass"
)

// Cache is a single caller's free-list set, one head and counter per
// size class. The zero value is not usable; construct with New.
type Cache struct {
	central *centralcache.Tier

	heads  []uintptr
	counts []int64

	highWater     int64
	retainDivisor int64
}

// New creates a Cache that refills from and evicts to central,
// configured by setts (see Defaultsettings).
func New(central *centralcache.Tier, setts s.Settings) *Cache {
	setts = Defaultsettings().Mixin(setts)
	return &Cache{
		central:       central,
		heads:         make([]uintptr, sizeclass.K),
		counts:        make([]int64, sizeclass.K),
		highWater:     setts.Int64("thread.highwater"),
		retainDivisor: setts.Int64("thread.retaindivisor"),
	}
}

func getNext(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

func setNext(addr uintptr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = next
}

// Allocate returns one block of the given size class, refilling from
// the central tier when the local list for that class is empty. The
// caller is responsible for mapping a requested byte count to a class
// index (see sizeclass.Index); Cache only ever deals in class indices.
func (c *Cache) Allocate(ci int) (uintptr, error) {
	if head := c.heads[ci]; head != 0 {
		c.heads[ci] = getNext(head)
		c.counts[ci]--
		return head, nil
	}

	classSize := sizeclass.ClassSize(ci)
	batch := sizeclass.BatchHint(classSize)

	start, _, n, err := c.central.FetchRange(batch, ci)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	first := start
	if n > 1 {
		c.heads[ci] = getNext(first)
		c.counts[ci] = n - 1
	}
	debugf("threadcache: class %d refilled %d blocks from central", ci, n)
	return first, nil
}

// Deallocate returns one block of the given size class to the local
// free-list, evicting a batch to the central tier if the list has
// grown past highWater.
func (c *Cache) Deallocate(ci int, p uintptr) {
	setNext(p, c.heads[ci])
	c.heads[ci] = p
	c.counts[ci]++

	if c.counts[ci] <= c.highWater {
		return
	}
	c.evict(ci)
}

// evict detaches the tail of the free-list for class ci, keeping
// roughly 1/retainDivisor of the current chain, and returns the
// detached tail to the central tier.
func (c *Cache) evict(ci int) {
	count := c.counts[ci]
	keep := count / c.retainDivisor
	if keep < 1 {
		keep = 1
	}
	evictCount := count - keep

	node := c.heads[ci]
	for i := int64(1); i < keep; i++ {
		node = getNext(node)
	}
	tailStart := getNext(node)
	setNext(node, 0)

	classSize := sizeclass.ClassSize(ci)
	c.central.ReturnRange(tailStart, evictCount*classSize, ci)
	c.counts[ci] = keep
	debugf("threadcache: class %d evicted %d blocks, retained %d", ci, evictCount, keep)
}

// Flush returns every block currently held by the cache back to the
// central tier, across all size classes. memtier calls this from a
// finalizer when the garbage collector reclaims a Cache the pool has
// dropped, so its inventory is not stranded.
func (c *Cache) Flush() {
	for ci, head := range c.heads {
		if head == 0 {
			continue
		}
		count := c.counts[ci]
		classSize := sizeclass.ClassSize(ci)
		c.central.ReturnRange(head, count*classSize, ci)
		c.heads[ci] = 0
		c.counts[ci] = 0
	}
	debugf("threadcache: flushed cache")
}
