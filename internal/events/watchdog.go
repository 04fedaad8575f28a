package events

import (
	"sync"
	"time"
)

// DefaultQuietWindow is how long a run may go without publishing before a
// consumer should surface a "possibly stalled" warning. Silence is a hint,
// not a failure signal.
const DefaultQuietWindow = 45 * time.Second

// Watchdog surfaces staleness for an in-progress job: if no event is
// observed within the quiet window it invokes onStale with the gap so far,
// once per quiet period. Feed it with Touch from the consuming loop.
type Watchdog struct {
	window  time.Duration
	onStale func(gap time.Duration)

	mu     sync.Mutex
	last   time.Time
	timer  *time.Timer
	closed bool
}

// NewWatchdog starts a watchdog. window <= 0 uses DefaultQuietWindow.
func NewWatchdog(window time.Duration, onStale func(gap time.Duration)) *Watchdog {
	if window <= 0 {
		window = DefaultQuietWindow
	}
	w := &Watchdog{
		window:  window,
		onStale: onStale,
		last:    time.Now(),
	}
	w.timer = time.AfterFunc(window, w.fire)
	return w
}

// Touch records event arrival and resets the quiet window.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.last = time.Now()
	w.timer.Reset(w.window)
}

// Stop halts the watchdog. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.timer.Stop()
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	gap := time.Since(w.last)
	w.timer.Reset(w.window)
	w.mu.Unlock()
	w.onStale(gap)
}
