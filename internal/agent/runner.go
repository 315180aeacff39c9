package agent

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTurnTimeout bounds a turn when the caller supplies none. Short
// report-style turns run with tighter caller-set limits; unattended turns
// may go as high as ten minutes.
const DefaultTurnTimeout = 5 * time.Minute

const eventBuffer = 64

// Failure reasons surfaced in TurnResult.Text. Cancellation and timeout are
// distinguished so callers can render different user-facing messages.
const (
	ReasonCancelled = "Cancelled."
	ReasonTimeout   = "Timeout exceeded."
	ReasonNoResult  = "Agent exited without a result."
)

// TurnOptions configures one turn.
type TurnOptions struct {
	// ResumeID reattaches the turn to an existing agent session. Empty
	// starts a fresh session whose id is learned from the started event.
	ResumeID string
	// Model overrides the runner's default capability tier.
	Model string
	// CWD is the working directory visible to the agent.
	CWD string
	// Timeout bounds the turn; zero applies the runner default.
	Timeout time.Duration
}

// Turn is one in-flight agent invocation: a stream of normalized events
// followed by exactly one Turn Result. Callers must drain Events (or cancel
// the context) for the turn to make progress.
type Turn struct {
	events chan Event
	done   chan struct{}
	result TurnResult
}

func newTurn() *Turn {
	return &Turn{
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events streams normalized events in process order. The channel is closed
// when the turn ends.
func (t *Turn) Events() <-chan Event {
	return t.events
}

// Wait blocks until the turn ends and returns its result.
func (t *Turn) Wait() TurnResult {
	<-t.done
	return t.result
}

func (t *Turn) finish(res TurnResult) {
	t.result = res
	close(t.events)
	close(t.done)
}

// RunnerOptions configures a Runner. Zero-value fields get defaults.
type RunnerOptions struct {
	Launcher       Launcher
	Locks          *SessionLocks
	Logger         *log.Logger
	DefaultModel   string
	DefaultTimeout time.Duration
	GracePeriod    time.Duration
}

// Runner orchestrates launcher, decoder, normalizer, session locks, and the
// termination policy into single asynchronous turns.
type Runner struct {
	launcher       Launcher
	locks          *SessionLocks
	logger         *log.Logger
	defaultModel   string
	defaultTimeout time.Duration
	grace          time.Duration
}

// NewRunner constructs a Runner. A nil Launcher gets the default CLI
// launcher; a nil lock table gets a fresh one.
func NewRunner(opts RunnerOptions) *Runner {
	launcher := opts.Launcher
	if launcher == nil {
		launcher = NewCLILauncher(defaultBinary)
	}
	locks := opts.Locks
	if locks == nil {
		locks = NewSessionLocks()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Runner{
		launcher:       launcher,
		locks:          locks,
		logger:         logger,
		defaultModel:   opts.DefaultModel,
		defaultTimeout: timeout,
		grace:          grace,
	}
}

// Locks exposes the runner's session lock table so callers sharing the
// runner can coordinate on the same sessions.
func (r *Runner) Locks() *SessionLocks {
	return r.locks
}

// Run starts one turn. The returned Turn streams normalized events and
// resolves to a Turn Result; all classifiable failures (spawn error,
// timeout, cancellation, exit without result) resolve to ok=false results
// rather than panics or leaked errors.
func (r *Runner) Run(ctx context.Context, prompt string, opts TurnOptions) *Turn {
	t := newTurn()
	go r.run(ctx, prompt, opts, t)
	return t
}

// RunResult runs a turn to completion, discarding intermediate events.
func (r *Runner) RunResult(ctx context.Context, prompt string, opts TurnOptions) TurnResult {
	t := r.Run(ctx, prompt, opts)
	for range t.Events() {
	}
	return t.Wait()
}

func (r *Runner) run(ctx context.Context, prompt string, opts TurnOptions, t *Turn) {
	started := time.Now()
	model := opts.Model
	if model == "" {
		model = r.defaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	ctx, span := otel.Tracer("steward/agent").Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("model", model),
			attribute.Bool("resumed", opts.ResumeID != ""),
		))
	defer span.End()

	lockID := ""
	defer func() {
		// Unconditional release on every exit path, including panics in
		// the decode loop.
		if lockID != "" {
			r.locks.Release(lockID)
		}
	}()

	finish := func(res TurnResult) {
		span.SetAttributes(
			attribute.Bool("ok", res.OK),
			attribute.String("session_id", res.SessionID),
			attribute.Int64("duration_ms", res.Duration.Milliseconds()),
			attribute.Int("tools_used", len(res.ToolsUsed)),
		)
		t.finish(res)
	}

	// Session identity already known when resuming: hold the lock before
	// the process exists.
	if opts.ResumeID != "" {
		if err := r.locks.Acquire(ctx, opts.ResumeID); err != nil {
			finish(TurnResult{
				SessionID: opts.ResumeID,
				Text:      ReasonCancelled,
				Duration:  time.Since(started),
			})
			return
		}
		lockID = opts.ResumeID
	}

	handle, err := r.launcher.Launch(ctx, LaunchSpec{
		Prompt:   prompt,
		Model:    model,
		ResumeID: opts.ResumeID,
		CWD:      opts.CWD,
	})
	if err != nil {
		r.logger.Error("agent spawn failed", "err", err)
		finish(TurnResult{
			SessionID: opts.ResumeID,
			Text:      err.Error(),
			Duration:  time.Since(started),
		})
		return
	}

	esc := newEscalation(handle, r.grace)

	var reasonMu sync.Mutex
	reason := ""
	setReason := func(s string) {
		reasonMu.Lock()
		if reason == "" {
			reason = s
		}
		reasonMu.Unlock()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			setReason(ReasonCancelled)
			esc.Trigger()
		case <-timer.C:
			setReason(ReasonTimeout)
			esc.Trigger()
		case <-watchDone:
		}
	}()

	norm := NewNormalizer()
	dec := NewDecoder(handle.Stdout())
	for dec.Scan() {
		for _, ev := range norm.Apply(dec.Record()) {
			if ev.Type == EventStarted && lockID == "" && ev.SessionID != "" {
				// Fresh session: the id only exists now, so the lock is
				// acquired retroactively. Two fresh turns racing to the
				// same external session cannot be prevented here.
				if err := r.locks.Acquire(ctx, ev.SessionID); err == nil {
					lockID = ev.SessionID
				}
			}
			select {
			case t.events <- ev:
			case <-ctx.Done():
				// Caller is gone; keep draining so the process can die.
			}
		}
	}

	if decErr := dec.Err(); decErr != nil {
		// An unreadable stream (a line past the scanner limit, usually)
		// stops decoding but must not wedge the process behind a full
		// stdout pipe.
		r.logger.Warn("agent stream unreadable, draining", "err", decErr)
		_, _ = io.Copy(io.Discard, handle.Stdout())
	}

	waitErr := handle.Wait()
	esc.Finish()

	if res, ok := norm.Summary(); ok {
		finish(res)
		return
	}

	reasonMu.Lock()
	why := reason
	reasonMu.Unlock()
	if why == "" {
		why = ReasonNoResult
		if waitErr != nil {
			r.logger.Warn("agent exited without a result", "err", waitErr)
		}
	}
	sessionID := norm.SessionID()
	if sessionID == "" {
		sessionID = opts.ResumeID
	}
	finish(TurnResult{
		SessionID: sessionID,
		Text:      why,
		Duration:  time.Since(started),
		ToolsUsed: norm.ToolsUsed(),
	})
}
