package oracle

import (
	"sync"
	"time"
)

// failureWindow counts per-asset update failures inside a sliding window.
// Exceeding the threshold trips the asset's publish circuit breaker.
type failureWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	events map[string][]time.Time
}

func newFailureWindow(window time.Duration, max int) *failureWindow {
	if window <= 0 {
		window = time.Hour
	}
	if max <= 0 {
		max = 10
	}
	return &failureWindow{
		window: window,
		max:    max,
		events: make(map[string][]time.Time),
	}
}

// Record notes one failure for the asset at time t.
func (w *failureWindow) Record(asset string, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events[asset] = append(w.prune(asset, t), t)
}

// Count returns the failures inside the window ending at now.
func (w *failureWindow) Count(asset string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	pruned := w.prune(asset, now)
	w.events[asset] = pruned
	return len(pruned)
}

// Tripped reports whether the asset has exceeded the failure budget.
func (w *failureWindow) Tripped(asset string, now time.Time) bool {
	return w.Count(asset, now) > w.max
}

// Reset clears the asset's failure history.
func (w *failureWindow) Reset(asset string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.events, asset)
}

// prune drops events older than the window. Caller holds the mutex.
func (w *failureWindow) prune(asset string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	events := w.events[asset]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
