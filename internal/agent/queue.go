package agent

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/steward-bot/steward/internal/events"
)

// Message is one pending user prompt for a session. A message enqueued
// against a busy session is never dropped: the drain worker applies it once
// the preceding turns finish.
type Message struct {
	// Ctx carries the caller's cancellation token for this message's turn.
	// Nil means no external cancellation.
	Ctx     context.Context
	Prompt  string
	Options TurnOptions

	// OnEvent receives the turn's normalized events as the worker drains
	// them. Optional.
	OnEvent func(Event)
	// OnResult receives the Turn Result, including synthesized internal
	// failures. Optional.
	OnResult func(TurnResult)
}

// RunFunc starts one turn. Satisfied by (*Runner).Run.
type RunFunc func(ctx context.Context, prompt string, opts TurnOptions) *Turn

// QueueOptions configures a Queue.
type QueueOptions struct {
	Run    RunFunc
	Logger *log.Logger
	Bus    events.Bus
}

// Queue keeps a FIFO of pending messages per session and drains each with a
// single worker, so a burst of N messages to a busy session yields exactly
// one worker running N turns sequentially, never N concurrent processes.
type Queue struct {
	run    RunFunc
	logger *log.Logger
	bus    events.Bus

	mu      sync.Mutex
	pending map[string][]Message
	active  map[string]bool
}

// NewQueue constructs a Queue. Run is required; Logger and Bus are optional.
func NewQueue(opts QueueOptions) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Queue{
		run:     opts.Run,
		logger:  logger,
		bus:     opts.Bus,
		pending: make(map[string][]Message),
		active:  make(map[string]bool),
	}
}

// Enqueue appends a message to the session's queue and returns its
// one-based position. The drain worker is started if none is active.
func (q *Queue) Enqueue(sessionID string, msg Message) int {
	q.mu.Lock()
	q.pending[sessionID] = append(q.pending[sessionID], msg)
	position := len(q.pending[sessionID])
	q.maybeStartWorkerLocked(sessionID)
	q.mu.Unlock()

	q.publish(events.Event{Type: events.TypeTurnQueued, SessionID: sessionID, Payload: position})
	return position
}

// Depth returns the number of not-yet-started messages for the session.
func (q *Queue) Depth(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[sessionID])
}

// maybeStartWorkerLocked activates the session's drain worker if it is not
// already running. Callers must hold q.mu.
func (q *Queue) maybeStartWorkerLocked(sessionID string) {
	if q.active[sessionID] || len(q.pending[sessionID]) == 0 {
		return
	}
	q.active[sessionID] = true
	go q.drain(sessionID)
}

// drain pops and runs messages until the session queue empties, then
// removes the queue entry so idle sessions cost no memory.
func (q *Queue) drain(sessionID string) {
	defer func() {
		// The active flag must clear even if a turn fails unexpectedly,
		// or the session queue wedges forever. A message enqueued during
		// deactivation restarts the worker.
		q.mu.Lock()
		delete(q.active, sessionID)
		q.maybeStartWorkerLocked(sessionID)
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		msgs := q.pending[sessionID]
		if len(msgs) == 0 {
			delete(q.pending, sessionID)
			q.mu.Unlock()
			return
		}
		msg := msgs[0]
		q.pending[sessionID] = msgs[1:]
		q.mu.Unlock()

		q.runOne(sessionID, msg)
	}
}

// runOne executes one message as a turn, blocking the worker until the
// turn's process exits. A panic out of the turn machinery is converted into
// an ok=false result so the message is answered rather than dropped.
func (q *Queue) runOne(sessionID string, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("turn panicked", "session_id", sessionID, "panic", r)
			q.deliver(msg, TurnResult{
				SessionID: sessionID,
				Text:      fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	ctx := msg.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	opts := msg.Options
	opts.ResumeID = sessionID

	q.publish(events.Event{Type: events.TypeTurnStarted, SessionID: sessionID})

	turn := q.run(ctx, msg.Prompt, opts)
	for ev := range turn.Events() {
		if msg.OnEvent != nil {
			msg.OnEvent(ev)
		}
	}
	res := turn.Wait()
	q.deliver(msg, res)
}

func (q *Queue) deliver(msg Message, res TurnResult) {
	severity := events.SeverityInfo
	if !res.OK {
		severity = events.SeverityWarn
	}
	q.publish(events.Event{
		Type:      events.TypeTurnFinished,
		SessionID: res.SessionID,
		Payload:   res,
		Severity:  severity,
	})
	if msg.OnResult != nil {
		msg.OnResult(res)
	}
}

func (q *Queue) publish(event events.Event) {
	if q.bus != nil {
		q.bus.Publish(event)
	}
}
