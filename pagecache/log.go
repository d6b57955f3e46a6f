package pagecache

import (
	"sync/atomic"

	log "github.com/bnclabs/golog"
)

var logok int64

// LogComponents enables logging for the pagecache package; once
// enabled it stays on. Off by default, matching the teacher's storage packages --
// page-tier operations are hot-path and should stay silent unless a
// caller asks otherwise.
func LogComponents(components ...string) {
	for _, comp := range components {
		if comp == "pagecache" || comp == "all" {
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

func errorf(format string, args ...interface{}) {
	if atomic.LoadInt64(&logok) == 1 {
		log.Errorf(format, args...)
	}
}
