package events

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchdog_FiresAfterQuietWindow(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(20*time.Millisecond, func(gap time.Duration) {
		if gap < 20*time.Millisecond {
			t.Errorf("gap = %v, want >= 20ms", gap)
		}
		fired.Add(1)
	})
	defer w.Stop()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() == 0 {
		t.Error("watchdog never fired during quiet period")
	}
}

func TestWatchdog_TouchDefersFiring(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(50*time.Millisecond, func(time.Duration) {
		fired.Add(1)
	})
	defer w.Stop()

	// Keep touching inside the window.
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		w.Touch()
	}
	if got := fired.Load(); got != 0 {
		t.Errorf("watchdog fired %d times while being fed", got)
	}
}

func TestWatchdog_StopPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(20*time.Millisecond, func(time.Duration) {
		fired.Add(1)
	})
	w.Stop()
	w.Stop() // idempotent

	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("watchdog fired %d times after Stop", got)
	}

	w.Touch() // no-op after Stop
}
