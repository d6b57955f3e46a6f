// Package pagecache implements the bottom tier of the allocator: it
// carves page-aligned spans out of memory obtained from a Mapper,
// hands them to the central tier on demand, and coalesces adjacent
// spans back together when they are released.
package pagecache

import (
	"fmt"
	"sync"

	s "github.com/bnclabs/gosettings"

	"github.com/bnclabs/memtier/sizeclass"
)

// Tier is the page-tier cache. One Tier instance typically backs an
// entire process; the central tier borrows spans from it and returns
// them, never touching Mapper directly.
type Tier struct {
	mu     sync.Mutex
	mapper Mapper

	bySize map[int64]*Span   // free spans bucketed by page count, chained via Span.next
	byBase map[uintptr]*Span // every free span, indexed by base address, for coalescing

	chunkPages int64 // pages requested from mapper when free lists run dry

	mapped   int64 // total bytes ever obtained from mapper
	released int64 // bytes currently sitting in free buckets
}

// NewTier creates a page tier backed by mapper, configured by setts
// (see Defaultsettings). setts.Int64("pagecache.chunkbytes") is rounded
// up to a whole number of pages and is the minimum amount requested
// from the mapper whenever no free span can satisfy a request.
func NewTier(mapper Mapper, setts s.Settings) *Tier {
	setts = Defaultsettings().Mixin(setts)
	chunkBytes := setts.Int64("pagecache.chunkbytes")

	chunkPages := chunkBytes / sizeclass.PageSize
	if chunkBytes%sizeclass.PageSize != 0 {
		chunkPages++
	}
	if chunkPages < 1 {
		chunkPages = 1
	}
	return &Tier{
		mapper:     mapper,
		bySize:     make(map[int64]*Span),
		byBase:     make(map[uintptr]*Span),
		chunkPages: chunkPages,
	}
}

// Allocate returns a span of exactly nPages pages. It first tries a
// best-fit match among free spans, splitting the remainder back into
// the free lists when the match is larger than requested; only when
// no free span is big enough does it call through to the Mapper.
func (t *Tier) Allocate(nPages int64) (*Span, error) {
	if nPages < 1 {
		nPages = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if span := t.bestFit(nPages); span != nil {
		return t.carve(span, nPages), nil
	}

	grow := t.chunkPages
	if nPages > grow {
		grow = nPages
	}
	base, err := t.mapper.Map(grow * sizeclass.PageSize)
	if err != nil {
		errorf("pagecache: grow by %d pages: %v", grow, err)
		return nil, fmt.Errorf("pagecache: grow by %d pages: %w", grow, err)
	}
	t.mapped += grow * sizeclass.PageSize
	debugf("pagecache: mapped %d pages at %#x", grow, base)

	span := &Span{Base: base, Pages: grow}
	return t.carve(span, nPages), nil
}

// bestFit finds the smallest free span whose page count is >= nPages,
// unlinks it from its bucket and the base index, and returns it.
func (t *Tier) bestFit(nPages int64) *Span {
	var best int64 = -1
	for pages := range t.bySize {
		if pages >= nPages && (best == -1 || pages < best) {
			best = pages
		}
	}
	if best == -1 {
		return nil
	}
	return t.unlinkHead(best)
}

// unlinkHead pops the head of the free bucket for the given page
// count, removing the bucket entirely if it becomes empty.
func (t *Tier) unlinkHead(pages int64) *Span {
	head := t.bySize[pages]
	if head == nil {
		return nil
	}
	if head.next == nil {
		delete(t.bySize, pages)
	} else {
		t.bySize[pages] = head.next
	}
	head.next = nil
	delete(t.byBase, head.Base)
	t.released -= head.Bytes()
	return head
}

// carve splits span into a leading block of nPages (returned to the
// caller) and a trailing remainder (pushed back onto the free lists),
// if any remainder exists.
func (t *Tier) carve(span *Span, nPages int64) *Span {
	if span.Pages == nPages {
		return span
	}
	remainder := &Span{
		Base:  span.Base + uintptr(nPages*sizeclass.PageSize),
		Pages: span.Pages - nPages,
	}
	t.linkFree(remainder)
	return &Span{Base: span.Base, Pages: nPages}
}

// linkFree inserts span at the head of its size bucket and indexes it
// by base address.
func (t *Tier) linkFree(span *Span) {
	span.next = t.bySize[span.Pages]
	t.bySize[span.Pages] = span
	t.byBase[span.Base] = span
	t.released += span.Bytes()
}

// Release returns a span to the page tier. If a span immediately
// preceding or following it is also free, Release merges them into a
// single larger span before relinking -- this is the only place
// coalescing happens, and it can chain in both directions in one call
// (a span freed between two already-free neighbors merges with both).
func (t *Tier) Release(base uintptr, nPages int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	span := &Span{Base: base, Pages: nPages}

	// Look for a free predecessor: some free span whose End() equals
	// our base. Scanning byBase mirrors how the original page cache
	// resolves this lookup, since there is no direct base-1 index.
	for predBase, pred := range t.byBase {
		if pred.End() == span.Base {
			t.removeFree(predBase, pred)
			span = &Span{Base: pred.Base, Pages: pred.Pages + span.Pages}
			break
		}
	}

	// Look for a free successor: some free span whose Base equals our
	// End().
	if succ, ok := t.byBase[span.End()]; ok {
		t.removeFree(succ.Base, succ)
		span = &Span{Base: span.Base, Pages: span.Pages + succ.Pages}
	}

	if span.Pages != nPages {
		debugf("pagecache: coalesced release at %#x into %d pages", span.Base, span.Pages)
	}
	t.linkFree(span)
}

// removeFree unlinks a specific span from its size bucket's chain.
// Used during coalescing, where the span to remove is not necessarily
// the bucket head.
func (t *Tier) removeFree(base uintptr, target *Span) {
	delete(t.byBase, base)
	t.released -= target.Bytes()

	head := t.bySize[target.Pages]
	if head == target {
		if head.next == nil {
			delete(t.bySize, target.Pages)
		} else {
			t.bySize[target.Pages] = head.next
		}
		target.next = nil
		return
	}
	prev := head
	for prev != nil && prev.next != target {
		prev = prev.next
	}
	if prev != nil {
		prev.next = target.next
	}
	target.next = nil
}

// Stats reports the page tier's current footprint.
func (t *Tier) Stats() (mapped, released int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mapped, t.released
}

// Close unmaps every span currently sitting free in this tier and
// empties its free lists. Spans handed out by Allocate and not yet
// Released are not unmapped. It is only safe once no other tier holds
// a reference to memory carved from this Tier -- ordinary Release
// never unmaps, matching spec.md's rule that the allocator never
// returns pages to the OS during normal operation.
func (t *Tier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	var unmapped int64
	seen := make(map[uintptr]bool)
	for base, span := range t.byBase {
		if seen[base] {
			continue
		}
		seen[base] = true
		if err := t.mapper.Unmap(span.Base, span.Bytes()); err != nil && firstErr == nil {
			firstErr = err
		}
		unmapped += span.Bytes()
	}
	t.bySize = make(map[int64]*Span)
	t.byBase = make(map[uintptr]*Span)
	infof("pagecache: closed, unmapped %d bytes", unmapped)
	return firstErr
}
