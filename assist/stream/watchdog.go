package stream

import (
	"sync"
	"time"
)

// Watchdog is the two-stage silence timer that guarantees a turn always makes
// forward progress. Stage 1 injects filler text and rearms; stage 2 force
// completes the turn. It is the only timeout authority for a stream.
type Watchdog struct {
	stage1   time.Duration
	stage2   time.Duration
	onFiller func()
	onForce  func()

	mu      sync.Mutex
	timer   *time.Timer
	stage   int
	stopped bool
}

// NewWatchdog creates a watchdog. Callbacks run on the timer goroutine; the
// owner is responsible for re-checking request activeness inside them.
func NewWatchdog(stage1, stage2 time.Duration, onFiller, onForce func()) *Watchdog {
	return &Watchdog{
		stage1:   stage1,
		stage2:   stage2,
		onFiller: onFiller,
		onForce:  onForce,
	}
}

// Rearm resets the watchdog back to stage 1. Called on stream open and on
// every meta or delta event.
func (w *Watchdog) Rearm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stage = 0
	if w.timer == nil {
		w.timer = time.AfterFunc(w.stage1, w.fire)
		return
	}
	w.timer.Stop()
	w.timer.Reset(w.stage1)
}

// Stop disarms the watchdog permanently. Idempotent; must be called whenever
// the owning request leaves the streaming state so a stale timer cannot
// complete an already finished turn.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if w.stage == 0 {
		w.stage = 1
		w.timer.Reset(w.stage2)
		w.mu.Unlock()
		w.onFiller()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	w.onForce()
}
