// Package progress rate-limits UI updates from a firehose of turn events.
//
// Chat-platform edit APIs are rate-limited; editing a progress message on
// every normalized event triggers throttling errors. The throttle coalesces
// bursts so the surface sees at most one edit per interval, always
// eventually showing the most recent render.
package progress

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum time between UI updates.
const DefaultInterval = 2 * time.Second

// SendFunc delivers one rendered progress update to the UI surface.
type SendFunc func(text string) error

// Throttle coalesces progress renders into at most one UI update per
// interval. Consecutive identical renders are suppressed entirely.
type Throttle struct {
	send     SendFunc
	interval time.Duration

	// Test seams.
	now      func() time.Time
	schedule func(time.Duration, func()) *time.Timer

	mu          sync.Mutex
	pending     string
	hasPending  bool
	lastSent    string
	scheduled   bool
	nextAllowed time.Time
	closed      bool
}

// New constructs a throttle delivering through send. A non-positive
// interval falls back to DefaultInterval.
func New(interval time.Duration, send SendFunc) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Throttle{
		send:     send,
		interval: interval,
		now:      time.Now,
		schedule: time.AfterFunc,
	}
}

// Request records the latest desired rendering and schedules a flush if
// none is pending. Later requests overwrite earlier ones; an intermediate
// stale render is never shown once newer data exists.
func (t *Throttle) Request(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.pending = text
	t.hasPending = true
	if t.scheduled {
		return
	}
	delay := t.nextAllowed.Sub(t.now())
	if delay < 0 {
		delay = 0
	}
	t.scheduled = true
	t.schedule(delay, t.flush)
}

func (t *Throttle) flush() {
	t.mu.Lock()
	t.scheduled = false
	if t.closed || !t.hasPending {
		t.mu.Unlock()
		return
	}
	text := t.pending
	t.hasPending = false
	if text == t.lastSent {
		// Duplicate render; skip the network call and leave the rate
		// window untouched.
		t.mu.Unlock()
		return
	}
	t.lastSent = text
	t.nextAllowed = t.now().Add(t.interval)
	send := t.send
	t.mu.Unlock()

	// Outside the lock: the surface call may block or re-enter Request.
	_ = send(text)
}

// Close permanently disables further updates, so a late timer cannot
// overwrite the final message once a turn finishes.
func (t *Throttle) Close() {
	t.mu.Lock()
	t.closed = true
	t.hasPending = false
	t.mu.Unlock()
}
