// Package lifecycle tracks process state shared across handlers.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle holds the draining flag used for readiness during graceful
// shutdown, plus the process start time reported by the debug route.
type Lifecycle struct {
	draining atomic.Bool
	started  time.Time
}

func New() *Lifecycle {
	return &Lifecycle{started: time.Now()}
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Uptime returns how long the process has been running.
func (l *Lifecycle) Uptime() time.Duration {
	if l == nil || l.started.IsZero() {
		return 0
	}
	return time.Since(l.started)
}
