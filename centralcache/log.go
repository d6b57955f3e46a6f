package centralcache

import (
	"sync/atomic"

	log "github.com/bnclabs/golog"
)

var logok int64

// LogComponents enables logging for the centralcache package.
func LogComponents(components ...string) {
	for _, comp := range components {
		if comp == "centralcache" || comp == "all" {
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

func infof(format string, args ...interface{}) {
	if atomic.LoadInt64(&logok) == 1 {
		log.Infof(format, args...)
	}
}

func warnf(format string, args ...interface{}) {
	if atomic.LoadInt64(&logok) == 1 {
		log.Warnf(format, args...)
	}
}
