package memtier

import (
	"sync/atomic"

	log "github.com/bnclabs/golog"

	"github.com/bnclabs/memtier/centralcache"
	"github.com/bnclabs/memtier/pagecache"
	"github.com/bnclabs/memtier/threadcache"
)

var logok int64

// LogComponents enables logging for memtier and, by name, any of its
// tiers: "pagecache", "centralcache", "threadcache", or "all" for
// every one of them including the façade itself. Logging is off by
// default; allocate/deallocate are hot paths and should stay silent
// unless a caller asks otherwise.
func LogComponents(components ...string) {
	for _, comp := range components {
		if comp == "memtier" || comp == "all" {
			atomic.StoreInt64(&logok, 1)
		}
	}
	pagecache.LogComponents(components...)
	centralcache.LogComponents(components...)
	threadcache.LogComponents(components...)
}

func infof(format string, args ...interface{}) {
	if atomic.LoadInt64(&logok) == 1 {
		log.Infof(format, args...)
	}
}

func errorf(format string, args ...interface{}) {
	if atomic.LoadInt64(&logok) == 1 {
		log.Errorf(format, args...)
	}
}
