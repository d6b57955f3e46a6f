package threadcache

import s "github.com/bnclabs/gosettings"

// Defaultsettings returns the thread tier's own tunables. New Mixin()s
// its caller's Settings on top of this, so a caller may omit any key
// it doesn't care to override.
func Defaultsettings() s.Settings {
	return s.Settings{
		// highwater is the per-class block count above which Deallocate
		// evicts a batch back to the central tier.
		"thread.highwater": int64(256),
		// retaindivisor controls how much of the chain survives an
		// eviction: keep = max(count/retaindivisor, 1).
		"thread.retaindivisor": int64(4),
	}
}
