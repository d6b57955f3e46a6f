// Package centralcache implements the middle tier of the allocator: a
// concurrent, per-size-class free-list that refills from a page tier
// on underflow, serves batches to thread tiers, and periodically
// reclaims fully-free spans back to the page tier.
//
// The free-lists are intrusive: the "next" pointer of a free block is
// written into the block's own first word. This is why blocks must be
// at least a word wide, which sizeclass.Alignment already guarantees.
package centralcache

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	s "github.com/bnclabs/gosettings"

	"github.com/bnclabs/memtier/lib"
	"github.com/bnclabs/memtier/pagecache"
	"github.com/bnclabs/memtier/sizeclass"
)

// scanBudget and casPublishRetries are internal safety bounds, not
// user tunables -- spec.md names neither as a configurable constant.
const (
	scanBudget        = 1_000_000
	casPublishRetries = 1_000_000
)

// SpanTracker is the metadata the central tier keeps for a span it
// carved into free-list blocks, used to detect when every block of
// that span is back in the free list and the span can be returned to
// the page tier.
type SpanTracker struct {
	base       uintptr
	pages      int64
	classSize  int64
	blockCount int64
	freeCount  atomic.Int64
	active     atomic.Bool
}

func (tr *SpanTracker) covers(addr uintptr) bool {
	end := tr.base + uintptr(tr.pages*sizeclass.PageSize)
	return addr >= tr.base && addr < end
}

type classState struct {
	head          atomic.Uintptr
	spin          atomic.Bool
	reclaimBusy   atomic.Bool
	delayCount    atomic.Int64
	lastReclaimAt atomic.Int64 // unix nanoseconds; 0 means never
}

func (cs *classState) acquireSpin() {
	for !cs.spin.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (cs *classState) releaseSpin() {
	cs.spin.Store(false)
}

// Tier is the central free-list cache, one instance per process,
// shared by every thread tier.
type Tier struct {
	pages   *pagecache.Tier
	classes []classState

	trackers     []SpanTracker
	trackerCount atomic.Int64

	corruptSuspected atomic.Int64

	spanPagesDefault   int64
	spanPagesCap       int64
	minBlocksPerRefill int64
	maxDelayCount      int64
	delayInterval      time.Duration

	spanPagesMu  sync.Mutex
	spanPagesAvg lib.AverageInt64
}

// CorruptSuspectedCount reports how many sweeps have aborted because a
// class's free-list scan exceeded the scan budget -- a signal of a
// pathologically long or cyclic list, most likely caused by a caller
// freeing the same block twice. The allocator does not repair this; it
// only counts it for diagnostics.
func (t *Tier) CorruptSuspectedCount() int64 {
	return t.corruptSuspected.Load()
}

// NewTier creates a central tier backed by pages, configured by setts
// (see Defaultsettings). pages is typically shared process-wide.
func NewTier(pages *pagecache.Tier, setts s.Settings) *Tier {
	setts = Defaultsettings().Mixin(setts)
	return &Tier{
		pages:              pages,
		classes:            make([]classState, sizeclass.K),
		trackers:           make([]SpanTracker, setts.Int64("central.trackerslots")),
		spanPagesDefault:   setts.Int64("central.spanpages"),
		spanPagesCap:       setts.Int64("central.maxspanpages"),
		minBlocksPerRefill: setts.Int64("refill.minobjects"),
		maxDelayCount:      setts.Int64("central.maxdelaycount"),
		delayInterval:      time.Duration(setts.Int64("central.delayintervalms")) * time.Millisecond,
	}
}

// SpanPagesStats reports the mean and sample count of pages-per-span
// this tier has requested from the page tier across every refill.
func (t *Tier) SpanPagesStats() (mean, samples int64) {
	t.spanPagesMu.Lock()
	defer t.spanPagesMu.Unlock()
	return t.spanPagesAvg.Mean(), t.spanPagesAvg.Samples()
}

func blockAddr(base uintptr, classSize int64, i int64) uintptr {
	return base + uintptr(i*classSize)
}

func getNext(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

func setNext(addr uintptr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = next
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// FetchRange returns up to batch contiguous free blocks for class ci
// as a detached, null-terminated sub-chain: start is the first block,
// end is the last, n is how many were taken (1 <= n <= batch for
// batch >= 1). On underflow it refills from the page tier; when the
// page tier itself cannot produce more memory, n is 0 and err is
// non-nil.
func (t *Tier) FetchRange(batch int64, ci int) (start, end uintptr, n int64, err error) {
	cs := &t.classes[ci]

	if cs.head.Load() == 0 {
		return t.refill(batch, ci)
	}

	cs.acquireSpin()
	head := cs.head.Load()
	if head == 0 {
		cs.releaseSpin()
		return t.refill(batch, ci)
	}

	start = head
	end = head
	n = 1
	for n < batch {
		next := getNext(end)
		if next == 0 {
			break
		}
		end = next
		n++
	}
	newHead := getNext(end)
	cs.head.Store(newHead)
	cs.releaseSpin()
	setNext(end, 0)

	t.updateTrackers(start, n, -1)
	debugf("centralcache: class %d fetch_range took %d blocks", ci, n)
	return start, end, n, nil
}

// updateTrackers walks the n-node chain starting at start, aggregating
// how many of its blocks belong to each tracked span, then applies
// sign*count to that tracker's freeCount in one atomic add per span.
// Used both when blocks leave the free list (sign -1) and when they
// are published back onto it (sign +1).
func (t *Tier) updateTrackers(start uintptr, n int64, sign int64) {
	counts := make(map[*SpanTracker]int64)
	addr := start
	for i := int64(0); i < n; i++ {
		if tr := t.SpanTrackerLookup(addr); tr != nil {
			counts[tr]++
		}
		if i < n-1 {
			addr = getNext(addr)
		}
	}
	for tr, c := range counts {
		tr.freeCount.Add(sign * c)
	}
}

// refill asks the page tier for a fresh span, carves it into blocks of
// class ci's size, hands the caller up to batch of them, and publishes
// any remainder onto the class free-list.
func (t *Tier) refill(batch int64, ci int) (start, end uintptr, n int64, err error) {
	classSize := sizeclass.ClassSize(ci)
	spanPages := clampI64(ceilDiv(t.minBlocksPerRefill*classSize, sizeclass.PageSize), t.spanPagesDefault, t.spanPagesCap)

	span, err := t.pages.Allocate(spanPages)
	if err != nil {
		warnf("centralcache: class %d refill failed: %v", ci, err)
		return 0, 0, 0, err
	}
	t.spanPagesMu.Lock()
	t.spanPagesAvg.Add(span.Pages)
	t.spanPagesMu.Unlock()

	blockCount := (span.Pages * sizeclass.PageSize) / classSize
	n = batch
	if blockCount < n {
		n = blockCount
	}

	base := span.Base
	for i := int64(0); i < blockCount-1; i++ {
		setNext(blockAddr(base, classSize, i), blockAddr(base, classSize, i+1))
	}
	setNext(blockAddr(base, classSize, blockCount-1), 0)

	start = base
	end = blockAddr(base, classSize, n-1)

	if n < blockCount {
		setNext(end, 0)
		remainderHead := blockAddr(base, classSize, n)
		tail := blockAddr(base, classSize, blockCount-1)

		cs := &t.classes[ci]
		published := false
		for attempt := 0; attempt < casPublishRetries; attempt++ {
			oldHead := cs.head.Load()
			setNext(tail, oldHead)
			if cs.head.CompareAndSwap(oldHead, remainderHead) {
				published = true
				break
			}
			runtime.Gosched()
		}
		if !published {
			warnf("centralcache: class %d refill publish exhausted CAS budget, falling back to spin", ci)
			cs.acquireSpin()
			setNext(tail, cs.head.Load())
			cs.head.Store(remainderHead)
			cs.releaseSpin()
		}
	}

	t.registerTracker(base, span.Pages, classSize, blockCount, blockCount-n)
	debugf("centralcache: class %d refilled %d blocks from %d pages, took %d", ci, blockCount, span.Pages, n)
	return start, end, n, nil
}

func (t *Tier) registerTracker(base uintptr, pages, classSize, blockCount, freeCount int64) {
	idx := t.trackerCount.Add(1) - 1
	if idx >= int64(len(t.trackers)) {
		warnf("centralcache: span tracker table exhausted, span at %#x not reclaimable", base)
		return
	}
	tr := &t.trackers[idx]
	tr.base = base
	tr.pages = pages
	tr.classSize = classSize
	tr.blockCount = blockCount
	tr.freeCount.Store(freeCount)
	tr.active.Store(true)
}

// SpanTrackerLookup returns the tracker whose span range covers addr,
// or nil if addr falls outside every tracked span (including the case
// where the table has overflowed and the owning span was never
// registered).
func (t *Tier) SpanTrackerLookup(addr uintptr) *SpanTracker {
	n := t.trackerCount.Load()
	if n > int64(len(t.trackers)) {
		n = int64(len(t.trackers))
	}
	for i := int64(0); i < n; i++ {
		tr := &t.trackers[i]
		if tr.active.Load() && tr.covers(addr) {
			return tr
		}
	}
	return nil
}

// TrackersInUse reports how many span-tracker slots have been
// consumed, capped at the table size; a value at the cap means later
// spans are being served without tracking.
func (t *Tier) TrackersInUse() int64 {
	n := t.trackerCount.Load()
	if n > int64(len(t.trackers)) {
		return int64(len(t.trackers))
	}
	return n
}

// ClassStat is a snapshot of one size class's bookkeeping, used by
// memtier.Stats() to report per-class occupancy.
type ClassStat struct {
	ClassSize     int64
	CarvedBlocks  int64
	FreeInCentral int64
	DelayCount    int64
	LastSweepAge  time.Duration // 0 if this class has never been swept
}

// ClassStats reports class ci's current bookkeeping, aggregated across
// every span tracker that belongs to it.
func (t *Tier) ClassStats(ci int) ClassStat {
	classSize := sizeclass.ClassSize(ci)

	var carved, free int64
	n := t.trackerCount.Load()
	if n > int64(len(t.trackers)) {
		n = int64(len(t.trackers))
	}
	for i := int64(0); i < n; i++ {
		tr := &t.trackers[i]
		if !tr.active.Load() || tr.classSize != classSize {
			continue
		}
		carved += tr.blockCount
		free += tr.freeCount.Load()
	}

	cs := &t.classes[ci]
	var age time.Duration
	if last := cs.lastReclaimAt.Load(); last != 0 {
		age = time.Since(time.Unix(0, last))
	}
	return ClassStat{
		ClassSize:     classSize,
		CarvedBlocks:  carved,
		FreeInCentral: free,
		DelayCount:    cs.delayCount.Load(),
		LastSweepAge:  age,
	}
}

// ReturnRange splices an externally supplied, class_size-aligned chain
// back onto class ci's free-list. totalBytes must equal the chain's
// actual length in bytes; ReturnRange re-terminates the chain itself
// rather than trusting the caller's tail.
func (t *Tier) ReturnRange(start uintptr, totalBytes int64, ci int) {
	classSize := sizeclass.ClassSize(ci)
	hops := totalBytes/classSize - 1

	end := start
	count := int64(1)
	for i := int64(0); i < hops; i++ {
		next := getNext(end)
		if next == 0 {
			break
		}
		end = next
		count++
	}
	setNext(end, 0)

	// Credit the returning blocks to their span trackers before the
	// blocks are published, per the tracker-update-before-publish
	// decision for return_range.
	t.updateTrackers(start, count, +1)

	cs := &t.classes[ci]
	published := false
	for attempt := 0; attempt < casPublishRetries; attempt++ {
		oldHead := cs.head.Load()
		setNext(end, oldHead)
		if cs.head.CompareAndSwap(oldHead, start) {
			published = true
			break
		}
		runtime.Gosched()
	}
	if !published {
		warnf("centralcache: class %d return_range exhausted CAS budget, falling back to spin", ci)
		cs.acquireSpin()
		setNext(end, cs.head.Load())
		cs.head.Store(start)
		cs.releaseSpin()
	}

	cs.delayCount.Add(1)
	t.maybeSweep(ci, cs)
}

func (t *Tier) maybeSweep(ci int, cs *classState) {
	if cs.delayCount.Load() < t.maxDelayCount {
		return
	}
	last := cs.lastReclaimAt.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < t.delayInterval {
		return
	}
	if !cs.reclaimBusy.CompareAndSwap(false, true) {
		return
	}
	defer cs.reclaimBusy.Store(false)

	cs.acquireSpin()
	t.reclaimFullSpans(ci)
	cs.releaseSpin()
}

// reclaimFullSpans walks class ci's free-list once, tallying resident
// blocks per span tracker, and splices out + releases every span whose
// entire block count is present. Caller must hold the class spin.
func (t *Tier) reclaimFullSpans(ci int) {
	cs := &t.classes[ci]
	cs.delayCount.Store(0)
	cs.lastReclaimAt.Store(time.Now().UnixNano())

	tally := make(map[*SpanTracker]int64)
	addr := cs.head.Load()
	count := int64(0)
	for addr != 0 && count < scanBudget {
		if tr := t.SpanTrackerLookup(addr); tr != nil {
			tally[tr]++
		}
		addr = getNext(addr)
		count++
	}
	if count >= scanBudget {
		t.corruptSuspected.Add(1)
		warnf("centralcache: class %d sweep aborted, scan budget exceeded (suspected cycle)", ci)
		return
	}

	full := make(map[*SpanTracker]bool)
	for tr, seen := range tally {
		if seen == tr.blockCount {
			full[tr] = true
		}
	}
	if len(full) == 0 {
		return
	}

	var newHead, tail uintptr
	addr = cs.head.Load()
	for addr != 0 {
		next := getNext(addr)
		owned := false
		for tr := range full {
			if tr.covers(addr) {
				owned = true
				break
			}
		}
		if !owned {
			if newHead == 0 {
				newHead = addr
			} else {
				setNext(tail, addr)
			}
			tail = addr
		}
		addr = next
	}
	if tail != 0 {
		setNext(tail, 0)
	}
	cs.head.Store(newHead)

	for tr := range full {
		tr.active.Store(false)
		t.pages.Release(tr.base, tr.pages)
		infof("centralcache: class %d reclaimed span at %#x (%d pages)", ci, tr.base, tr.pages)
	}
}
