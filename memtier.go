package memtier

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	s "github.com/bnclabs/gosettings"

	"github.com/bnclabs/memtier/api"
	"github.com/bnclabs/memtier/centralcache"
	"github.com/bnclabs/memtier/lib"
	"github.com/bnclabs/memtier/pagecache"
	"github.com/bnclabs/memtier/sizeclass"
	"github.com/bnclabs/memtier/threadcache"
)

// Allocator satisfies api.Allocator: a caller who wants to substitute
// their own tier implementation (or a test double) for memtier.Allocator
// can depend on api.Allocator instead of this concrete type.
var _ api.Allocator = (*Allocator)(nil)

// Allocator is the façade over the three-tier cache: a single
// Allocate/Deallocate pair that routes each call either straight to
// the backing Mapper (requests larger than sizeclass.MaxBytes) or down
// through a borrowed thread-tier cache into the central and page
// tiers.
//
// One Allocator is meant to be shared process-wide; construct it once
// with New and reuse it from every goroutine.
type Allocator struct {
	pages   *pagecache.Tier
	central *centralcache.Tier
	mapper  pagecache.Mapper
	setts   s.Settings

	caches sync.Pool // holds *threadcache.Cache

	sizesMu sync.Mutex
	sizes   lib.HistogramInt64
}

// New constructs an Allocator backed by mapper, configured by setts
// (see Defaultsettings). mapper is typically pagecache.NewOSMapper(),
// but tests may substitute a fake. setts is merged with Defaultsettings
// once here and the merged Settings is handed to every tier's own
// constructor -- each of those Mixin()s it over its own defaults again,
// so a caller may pass a bare, partial Settings and still get every
// tunable it didn't override.
func New(mapper pagecache.Mapper, setts s.Settings) *Allocator {
	setts = Defaultsettings().Mixin(setts)

	pages := pagecache.NewTier(mapper, setts)
	central := centralcache.NewTier(pages, setts)

	a := &Allocator{
		pages:   pages,
		central: central,
		mapper:  mapper,
		setts:   setts,
		sizes:   *lib.NewhistorgramInt64(0, sizeclass.MaxBytes, 4096),
	}
	a.caches.New = func() interface{} {
		return newPooledCache(central, setts)
	}
	infof("memtier: allocator constructed")
	return a
}

// newPooledCache builds a thread-tier cache and arms a finalizer that
// flushes it back to central when the pool drops its last reference
// and the garbage collector reclaims it. Go has no equivalent of an
// OS-thread-exit destructor; this is the closest substitute for one.
func newPooledCache(central *centralcache.Tier, setts s.Settings) *threadcache.Cache {
	c := threadcache.New(central, setts)
	runtime.SetFinalizer(c, func(c *threadcache.Cache) {
		c.Flush()
	})
	return c
}

func roundToPage(n int64) int64 {
	pages := (n + sizeclass.PageSize - 1) / sizeclass.PageSize
	return pages * sizeclass.PageSize
}

// Allocate returns n bytes, aligned to at least sizeclass.Alignment.
// n == 0 is treated as a request for the smallest size class. Requests
// larger than sizeclass.MaxBytes bypass every tier and are served
// directly by the Mapper. The only failure mode is the backing Mapper
// refusing to produce more memory.
func (a *Allocator) Allocate(n int64) (unsafe.Pointer, error) {
	requested := n
	if n == 0 {
		n = sizeclass.Alignment
	}

	a.sizesMu.Lock()
	a.sizes.Add(requested)
	a.sizesMu.Unlock()

	if n > sizeclass.MaxBytes {
		base, err := a.mapper.Map(roundToPage(n))
		if err != nil {
			errorf("memtier: oversize allocate of %d bytes failed: %v", n, err)
			return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
		return unsafe.Pointer(base), nil
	}

	ci := sizeclass.Index(n)
	cache := a.caches.Get().(*threadcache.Cache)
	defer a.caches.Put(cache)

	addr, err := cache.Allocate(ci)
	if err != nil {
		errorf("memtier: allocate class %d failed: %v", ci, err)
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	if addr == 0 {
		return nil, ErrOutOfMemory
	}
	return unsafe.Pointer(addr), nil
}

// Deallocate returns a block previously obtained from Allocate. n MUST
// be the exact value passed to that Allocate call -- there is no
// per-block header, so a mismatched size corrupts allocator state
// rather than producing a detectable error.
func (a *Allocator) Deallocate(ptr unsafe.Pointer, n int64) {
	if ptr == nil {
		return
	}
	if n == 0 {
		n = sizeclass.Alignment
	}
	if n > sizeclass.MaxBytes {
		if err := a.mapper.Unmap(uintptr(ptr), roundToPage(n)); err != nil {
			errorf("memtier: oversize deallocate unmap failed: %v", err)
		}
		return
	}

	ci := sizeclass.Index(n)
	cache := a.caches.Get().(*threadcache.Cache)
	defer a.caches.Put(cache)
	cache.Deallocate(ci, uintptr(ptr))
}

// Close tears down the allocator, unmapping every span its page tier
// currently holds free (see pagecache.Tier.Close). Spans still carved
// into blocks for the central or thread tiers are not unmapped. It is
// only safe once the caller guarantees no outstanding block is still
// in use.
func (a *Allocator) Close() error {
	infof("memtier: closing allocator")
	return a.pages.Close()
}
