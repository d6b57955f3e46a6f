package memtier

import (
	s "github.com/bnclabs/gosettings"

	"github.com/bnclabs/memtier/centralcache"
	"github.com/bnclabs/memtier/pagecache"
	"github.com/bnclabs/memtier/threadcache"
)

// Defaultsettings returns every tunable memtier's tiers honor, merged
// from each tier's own Defaultsettings. Pass the result, Mixin()-ed
// with any overrides, to New -- or pass a partial Settings directly,
// since New merges it over Defaultsettings before handing it to each
// tier's own constructor, and every tier constructor fills in
// whichever of its own keys are missing.
//
// alignment, maxbytes and pagesize (spec.md's remaining compile-time
// tunables) are deliberately not here: they size sizeclass.K, which in
// turn sizes every fixed-shape slice these tiers allocate (thread-tier
// head/count arrays, central-tier class-state arrays). Making them
// runtime settings would mean sizeclass could no longer be the pure,
// stateless function set every other component depends on -- see
// DESIGN.md.
func Defaultsettings() s.Settings {
	return s.Settings{}.Mixin(
		pagecache.Defaultsettings(),
		centralcache.Defaultsettings(),
		threadcache.Defaultsettings(),
	)
}
