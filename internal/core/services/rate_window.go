package services

import (
	"sync"
	"time"
)

// rateWindow is a per-origin fixed-window counter. The window resets
// atomically: a request after windowResetAt replaces the counter instead of
// decaying it.
type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateWindows tracks per-origin creation counters. Origins are network
// addresses; entries are pruned once their window has passed.
type RateWindows struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	max     int
	period  time.Duration
}

func NewRateWindows(max int, period time.Duration) *RateWindows {
	return &RateWindows{
		windows: make(map[string]*rateWindow),
		max:     max,
		period:  period,
	}
}

// Allow reports whether origin may perform another creation at now, and
// counts it if so. The count never exceeds max within a window.
func (rw *RateWindows) Allow(origin string, now time.Time) bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	w, ok := rw.windows[origin]
	if !ok || !now.Before(w.resetAt) {
		rw.windows[origin] = &rateWindow{count: 1, resetAt: now.Add(rw.period)}
		return true
	}

	if w.count >= rw.max {
		return false
	}
	w.count++
	return true
}

// Prune drops windows that have fully elapsed.
func (rw *RateWindows) Prune(now time.Time) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	for origin, w := range rw.windows {
		if !now.Before(w.resetAt) {
			delete(rw.windows, origin)
		}
	}
}
