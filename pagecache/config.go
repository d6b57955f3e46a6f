package pagecache

import (
	s "github.com/bnclabs/gosettings"

	"github.com/bnclabs/memtier/sizeclass"
)

// Defaultsettings returns pagecache's own tunables. NewTier Mixin()s
// its caller's Settings on top of this, so a caller may omit any key
// it doesn't care to override.
func Defaultsettings() s.Settings {
	return s.Settings{
		// chunkbytes is the minimum amount of memory requested from the
		// Mapper whenever the free lists cannot satisfy a span request,
		// rounded up to a whole number of pages by NewTier.
		"pagecache.chunkbytes": int64(8 * sizeclass.PageSize),
	}
}
