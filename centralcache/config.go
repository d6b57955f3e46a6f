package centralcache

import s "github.com/bnclabs/gosettings"

// Defaultsettings returns the central tier's own tunables. NewTier
// Mixin()s its caller's Settings on top of this, so a caller may omit
// any key it doesn't care to override.
func Defaultsettings() s.Settings {
	return s.Settings{
		// spanpages/maxspanpages bound how many pages refill() asks the
		// page tier for on underflow -- clamped between these two.
		"central.spanpages":    int64(8),
		"central.maxspanpages": int64(128),
		// minobjects is the minimum number of blocks refill() tries to
		// carve out of a fresh span before handing any to the caller.
		"refill.minobjects": int64(64),
		// maxdelaycount is how many return_range calls a class tolerates
		// before a reclamation sweep is attempted.
		"central.maxdelaycount": int64(48),
		// delayintervalms is the minimum wall-clock gap, in milliseconds,
		// between reclamation sweep attempts for a class.
		"central.delayintervalms": int64(1000),
		// trackerslots bounds how many spans a single Tier can track for
		// full-span reclamation. Past this, spans remain usable but are
		// never returned to the page tier.
		"central.trackerslots": int64(1024),
	}
}
