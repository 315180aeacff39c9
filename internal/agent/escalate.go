package agent

import (
	"sync"
	"time"
)

// DefaultGracePeriod is the delay between the graceful terminate and the
// forceful kill. Some agent subprocesses slow-roll SIGTERM while flushing
// tool output; an immediate hard kill risks corrupting in-progress file
// edits.
const DefaultGracePeriod = 2 * time.Second

type escalationState int

const (
	escRunning escalationState = iota
	escTerminating
	escKilled
	escCompleted
)

// escalation drives the two-stage termination policy for one turn:
// running -> terminating -> killed, or running -> completed.
type escalation struct {
	handle Handle
	grace  time.Duration

	// afterFunc is a test seam; defaults to time.AfterFunc.
	afterFunc func(time.Duration, func()) *time.Timer

	mu        sync.Mutex
	state     escalationState
	killTimer *time.Timer
}

func newEscalation(handle Handle, grace time.Duration) *escalation {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &escalation{
		handle:    handle,
		grace:     grace,
		afterFunc: time.AfterFunc,
	}
}

// Trigger sends the graceful termination signal and arms the kill timer.
// Timeout expiry and external cancellation both land here; only the first
// call has any effect.
func (e *escalation) Trigger() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != escRunning {
		return
	}
	e.state = escTerminating
	_ = e.handle.Terminate()
	e.killTimer = e.afterFunc(e.grace, e.kill)
}

// kill escalates to a forceful kill. Issued at most once, and only if the
// process outlived the grace window.
func (e *escalation) kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != escTerminating {
		return
	}
	e.state = escKilled
	_ = e.handle.Kill()
}

// Finish records process exit and disarms any pending kill.
func (e *escalation) Finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.killTimer != nil {
		e.killTimer.Stop()
	}
	if e.state == escRunning || e.state == escTerminating {
		e.state = escCompleted
	}
}

// Triggered reports whether termination was requested before process exit.
func (e *escalation) Triggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == escTerminating || e.state == escKilled
}
