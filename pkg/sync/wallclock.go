// ABOUTME: Wall clock playback timer for clips without audio
// ABOUTME: Runs from a base time while started and freezes while paused
package sync

import (
	"sync"
	"time"
)

// WallClock measures playback time with the system clock
type WallClock struct {
	mu      sync.Mutex
	now     func() time.Time
	base    int64
	started time.Time
	running bool
}

// NewWallClock creates a paused wall clock at zero
func NewWallClock() *WallClock {
	return NewWallClockWithSource(time.Now)
}

// NewWallClockWithSource uses now instead of time.Now
func NewWallClockWithSource(now func() time.Time) *WallClock {
	return &WallClock{now: now}
}

// Start begins advancing from the current base. No-op if running.
func (w *WallClock) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.started = w.now()
	w.running = true
}

// Pause freezes the clock at its current value
func (w *WallClock) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.base = w.elapsed()
	w.running = false
}

// Running reports whether the clock is advancing
func (w *WallClock) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// ResetBase moves the clock to atMicros without changing run state
func (w *WallClock) ResetBase(atMicros int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.base = atMicros
	if w.running {
		w.started = w.now()
	}
}

func (w *WallClock) ElapsedMicros() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.elapsed()
}

func (w *WallClock) elapsed() int64 {
	if !w.running {
		return w.base
	}
	return w.base + w.now().Sub(w.started).Microseconds()
}
