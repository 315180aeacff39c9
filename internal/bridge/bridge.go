// Package bridge connects chat-platform messages to agent turns: it owns
// the in-flight task registry, renders live progress through a throttle,
// and delivers final results chunked to the platform's message size limit.
// The chat platform itself is reached only through the Surface interface.
package bridge

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/steward-bot/steward/internal/agent"
	"github.com/steward-bot/steward/internal/progress"
)

// DefaultMaxMessageLen is the per-message size limit applied when chunking
// final output.
const DefaultMaxMessageLen = 4000

// Surface is the chat-platform boundary the bridge calls back into.
type Surface interface {
	// SendProgress posts a new progress message and returns its id.
	SendProgress(ctx context.Context, text string) (string, error)
	// EditProgress replaces the text of an existing progress message.
	EditProgress(ctx context.Context, messageID, text string) error
	// SendFinal delivers one chunk of final output.
	SendFinal(ctx context.Context, text string) error
}

// State is the coarse UI state of a running task.
type State string

const (
	// StateThinking means no output has arrived yet.
	StateThinking State = "thinking"
	// StateTool means a tool invocation is in flight.
	StateTool State = "tool"
	// StateWriting means assistant text is streaming.
	StateWriting State = "writing"
)

// Task associates a progress message with a turn in flight. It holds the
// cancellation token and the pre-session queue: messages that arrive before
// the started event reveals the session id.
type Task struct {
	ID        string
	SessionID string
	State     State

	cancel     context.CancelFunc
	preSession []string
	throttle   *progress.Throttle
}

// Options configures a Bridge.
type Options struct {
	Runner        *agent.Runner
	Queue         *agent.Queue
	Surface       Surface
	Logger        *log.Logger
	Interval      time.Duration
	MaxMessageLen int
}

// Bridge routes user messages into turns and turn progress back to chat.
type Bridge struct {
	runner  *agent.Runner
	queue   *agent.Queue
	surface Surface
	logger  *log.Logger

	interval time.Duration
	maxLen   int

	mu    sync.Mutex
	tasks map[string]*Task
}

// New constructs a Bridge. Runner and Surface are required; a nil Queue
// gets one backed by the runner.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	queue := opts.Queue
	if queue == nil {
		queue = agent.NewQueue(agent.QueueOptions{Run: opts.Runner.Run, Logger: logger})
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = progress.DefaultInterval
	}
	maxLen := opts.MaxMessageLen
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	return &Bridge{
		runner:   opts.Runner,
		queue:    queue,
		surface:  opts.Surface,
		logger:   logger,
		interval: interval,
		maxLen:   maxLen,
		tasks:    make(map[string]*Task),
	}
}

// HandleMessage routes one user message. A non-empty sessionID enqueues a
// follow-up turn for that session; an empty one starts a fresh session, or
// joins the pre-session queue of a fresh turn whose id is not yet known.
func (b *Bridge) HandleMessage(ctx context.Context, sessionID, prompt string, opts agent.TurnOptions) error {
	if sessionID != "" {
		b.enqueue(ctx, sessionID, prompt, opts)
		return nil
	}

	b.mu.Lock()
	if task := b.freshTaskLocked(); task != nil {
		// A fresh turn is mid-flight and its session id is still unknown;
		// the queue is keyed by session id, so hold the message here.
		task.preSession = append(task.preSession, prompt)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.startFresh(ctx, prompt, opts)
}

// Cancel triggers the cancellation token of an in-flight task.
func (b *Bridge) Cancel(taskID string) bool {
	b.mu.Lock()
	task, ok := b.tasks[taskID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	task.cancel()
	return true
}

// freshTaskLocked returns a running task that has not yet learned its
// session id. Callers must hold b.mu.
func (b *Bridge) freshTaskLocked() *Task {
	for _, task := range b.tasks {
		if task.SessionID == "" {
			return task
		}
	}
	return nil
}

func (b *Bridge) startFresh(ctx context.Context, prompt string, opts agent.TurnOptions) error {
	messageID, err := b.surface.SendProgress(ctx, renderState(StateThinking, ""))
	if err != nil {
		return fmt.Errorf("send progress message: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		ID:     messageID,
		State:  StateThinking,
		cancel: cancel,
		throttle: progress.New(b.interval, func(text string) error {
			return b.surface.EditProgress(context.Background(), messageID, text)
		}),
	}
	b.mu.Lock()
	b.tasks[messageID] = task
	b.mu.Unlock()

	go b.runFresh(runCtx, task, prompt, opts)
	return nil
}

func (b *Bridge) runFresh(ctx context.Context, task *Task, prompt string, opts agent.TurnOptions) {
	defer func() {
		task.cancel()
		b.mu.Lock()
		delete(b.tasks, task.ID)
		b.mu.Unlock()
	}()

	turn := b.runner.Run(ctx, prompt, opts)
	for ev := range turn.Events() {
		b.observe(task, ev)
	}
	res := turn.Wait()
	task.throttle.Close()

	b.mu.Lock()
	dropped := len(task.preSession)
	task.preSession = nil
	b.mu.Unlock()
	if dropped > 0 {
		// The turn died before announcing a session id, so the held
		// follow-ups have nowhere to go.
		b.logger.Warn("dropping messages held for a session that never started", "count", dropped)
	}

	b.deliver(res)
}

// observe updates the task's coarse state from one normalized event and
// requests a progress render. On started it flushes the pre-session queue
// into the now-known session's turn queue, preserving arrival order.
func (b *Bridge) observe(task *Task, ev agent.Event) {
	switch ev.Type {
	case agent.EventStarted:
		b.mu.Lock()
		task.SessionID = ev.SessionID
		held := task.preSession
		task.preSession = nil
		b.mu.Unlock()
		for _, prompt := range held {
			b.enqueue(context.Background(), ev.SessionID, prompt, agent.TurnOptions{})
		}
	case agent.EventText:
		task.State = StateWriting
		task.throttle.Request(renderState(StateWriting, ""))
	case agent.EventToolStart:
		task.State = StateTool
		task.throttle.Request(renderState(StateTool, ev.Title))
	}
}

// enqueue routes a follow-up message for a known session through the turn
// queue, which serializes it behind any in-flight turn.
func (b *Bridge) enqueue(ctx context.Context, sessionID, prompt string, opts agent.TurnOptions) {
	b.queue.Enqueue(sessionID, agent.Message{
		Ctx:     ctx,
		Prompt:  prompt,
		Options: opts,
		OnResult: func(res agent.TurnResult) {
			b.deliver(res)
		},
	})
}

// deliver sends the final outcome: chunked result text plus a resume token
// on success, an apologetic but specific status message on failure. Delivery
// runs on a fresh context: the request context is usually already cancelled
// when the outcome is a cancellation, and the failure notice must still
// reach the user.
func (b *Bridge) deliver(res agent.TurnResult) {
	ctx := context.Background()
	if !res.OK {
		text := res.Text
		if text == "" {
			text = "the agent did not produce a result"
		}
		if err := b.surface.SendFinal(ctx, "Sorry, that didn't work: "+text); err != nil {
			b.logger.Error("deliver failure message", "err", err)
		}
		return
	}
	for _, chunk := range chunkMessage(res.Text, b.maxLen) {
		if err := b.surface.SendFinal(ctx, chunk); err != nil {
			b.logger.Error("deliver final chunk", "err", err)
			return
		}
	}
	if res.SessionID != "" {
		token := "Continue this session with " + agent.FormatResumeToken(res.SessionID)
		if err := b.surface.SendFinal(ctx, token); err != nil {
			b.logger.Error("deliver resume token", "err", err)
		}
	}
}

func renderState(state State, title string) string {
	switch state {
	case StateTool:
		if title != "" {
			return "Working: " + title
		}
		return "Working..."
	case StateWriting:
		return "Writing..."
	default:
		return "Thinking..."
	}
}

// chunkMessage splits text into chunks no longer than limit bytes,
// preferring newline boundaries near the limit.
func chunkMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if idx := lastNewline(text[:cut]); idx > limit/2 {
			cut = idx
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
		if len(text) > 0 && text[0] == '\n' {
			text = text[1:]
		}
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
