package threadcache

import (
	"sync/atomic"

	log "github.com/bnclabs/golog"
)

var logok int64

// LogComponents enables logging for the threadcache package.
func LogComponents(components ...string) {
	for _, comp := range components {
		if comp == "threadcache" || comp == "all" {
			atomic.StoreInt64(&logok, 1)
			return
		}
	}
}

func debugf(format string, args ...interface{}) {
	if atomic.LoadInt64(&logok) == 1 {
		log.Debugf(format, args...)
	}
}
