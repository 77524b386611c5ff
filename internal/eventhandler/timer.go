package eventhandler

import (
	"sync"
	"time"
)

// ReusableTimer is a mutex-guarded single re-armable timer: idle, or armed
// with exactly one pending callback. restart re-arms with whatever
// (duration, fn) was last passed to start; cancel is idempotent.
type ReusableTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	dur   time.Duration
	fn    func()
	armed bool
}

// Start arms the timer, cancelling any previous pending firing.
func (t *ReusableTimer) Start(dur time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.dur = dur
	t.fn = fn
	t.armed = true
	t.timer = time.AfterFunc(dur, t.fire)
}

// Restart cancels and re-arms with the previously supplied (duration, fn).
// A no-op if Start was never called.
func (t *ReusableTimer) Restart() {
	t.mu.Lock()
	fn := t.fn
	dur := t.dur
	hasFn := fn != nil
	t.mu.Unlock()
	if !hasFn {
		return
	}
	t.Start(dur, fn)
}

// Cancel disarms the timer. Idempotent: a no-op on an idle timer.
func (t *ReusableTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *ReusableTimer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.armed = false
}

func (t *ReusableTimer) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *ReusableTimer) fire() {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
