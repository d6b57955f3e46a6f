package memtier

import (
	"unsafe"

	humanize "github.com/dustin/go-humanize"

	"github.com/bnclabs/memtier/api"
	"github.com/bnclabs/memtier/centralcache"
	"github.com/bnclabs/memtier/lib"
	"github.com/bnclabs/memtier/sizeclass"
)

// Stats is a point-in-time snapshot of the allocator's footprint,
// aggregated across all three tiers.
type Stats struct {
	api.Stats

	// TrackersInUse is how many of the central tier's bounded
	// span-tracker slots are occupied; at the table's capacity, further
	// spans are served but can never be reclaimed.
	TrackersInUse int64

	// CorruptSuspected counts reclamation sweeps aborted because a
	// class's free-list scan exceeded its budget -- most likely a
	// double-free creating a cycle. The allocator never repairs this;
	// it only counts it.
	CorruptSuspected int64

	// SpanPagesMean/SpanPagesSamples summarize how many pages the
	// central tier has requested from the page tier per refill.
	SpanPagesMean    int64
	SpanPagesSamples int64

	// Sizes is a histogram of every byte count passed to Allocate,
	// including oversize requests. Cloned so callers may hold onto a
	// snapshot without racing the allocator's live histogram.
	Sizes *lib.HistogramInt64

	// Classes reports, for every size class that currently has at least
	// one tracked span, how many blocks are carved, how many of them
	// currently sit free in the central tier, and this class's
	// reclamation-sweep gating state. Classes with no tracked span --
	// never touched, every span reclaimed, or served only by spans past
	// the tracker table's capacity -- are omitted; with sizeclass.K in
	// the tens of thousands, reporting every class unconditionally
	// would drown the signal.
	Classes []ClassStat
}

// ClassStat is memtier's per-class stats shape, re-exported from
// centralcache so callers don't need to import that package directly.
type ClassStat = centralcache.ClassStat

// Stats reports a snapshot of the allocator's current footprint.
func (a *Allocator) Stats() Stats {
	mapped, released := a.pages.Stats()
	trackers := a.central.TrackersInUse()
	spanPagesMean, spanPagesSamples := a.central.SpanPagesStats()

	a.sizesMu.Lock()
	sizes := a.sizes.Clone()
	a.sizesMu.Unlock()

	classes := make([]ClassStat, 0, 16)
	for ci := 0; ci < sizeclass.K; ci++ {
		stat := a.central.ClassStats(ci)
		if stat.CarvedBlocks == 0 {
			continue
		}
		classes = append(classes, stat)
	}

	return Stats{
		Stats: api.Stats{
			Capacity:  mapped,
			Allocated: mapped - released,
			Available: released,
			Overhead:  trackers * int64(unsafe.Sizeof(centralcache.SpanTracker{})),
		},
		TrackersInUse:    trackers,
		CorruptSuspected: a.central.CorruptSuspectedCount(),
		SpanPagesMean:    spanPagesMean,
		SpanPagesSamples: spanPagesSamples,
		Sizes:            sizes,
		Classes:          classes,
	}
}

// String renders the snapshot with human-readable byte counts.
func (st Stats) String() string {
	classes := make([]interface{}, 0, len(st.Classes))
	for _, c := range st.Classes {
		classes = append(classes, map[string]interface{}{
			"classsize":     c.ClassSize,
			"carvedblocks":  c.CarvedBlocks,
			"freeincentral": c.FreeInCentral,
			"delaycount":    c.DelayCount,
			"lastsweepage":  c.LastSweepAge.String(),
		})
	}

	m := map[string]interface{}{
		"capacity":         humanize.Bytes(uint64(st.Capacity)),
		"allocated":        humanize.Bytes(uint64(st.Allocated)),
		"available":        humanize.Bytes(uint64(st.Available)),
		"overhead":         humanize.Bytes(uint64(st.Overhead)),
		"trackersinuse":    st.TrackersInUse,
		"corruptsuspected": st.CorruptSuspected,
		"spanpagesmean":    st.SpanPagesMean,
		"spanpagessamples": st.SpanPagesSamples,
		"classes":          classes,
	}
	if st.Sizes != nil {
		m["sizes"] = st.Sizes.Fullstats()
	}
	return lib.Prettystats(m, true)
}
