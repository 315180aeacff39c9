package bridge

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/steward-bot/steward/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSurface records everything the bridge sends to the chat platform.
type fakeSurface struct {
	mu       sync.Mutex
	progress []string
	edits    []string
	finals   []string
}

func (s *fakeSurface) SendProgress(_ context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, text)
	return "msg-1", nil
}

func (s *fakeSurface) EditProgress(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, text)
	return nil
}

func (s *fakeSurface) SendFinal(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, text)
	return nil
}

func (s *fakeSurface) finalCopy() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.finals...)
}

// scriptLauncher serves each launch from the next canned stdout script.
type scriptLauncher struct {
	mu      sync.Mutex
	scripts []string
	specs   []agent.LaunchSpec
}

type scriptHandle struct{ stdout io.Reader }

func (h *scriptHandle) Stdout() io.Reader { return h.stdout }
func (h *scriptHandle) Terminate() error  { return nil }
func (h *scriptHandle) Kill() error       { return nil }
func (h *scriptHandle) Wait() error       { return nil }

func (l *scriptLauncher) Launch(_ context.Context, spec agent.LaunchSpec) (agent.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	script := ""
	if len(l.scripts) > 0 {
		script = l.scripts[0]
		l.scripts = l.scripts[1:]
	}
	return &scriptHandle{stdout: strings.NewReader(script)}, nil
}

func script(sessionID, text string) string {
	return `{"type":"system","subtype":"init","session_id":"` + sessionID + `"}
{"type":"assistant","message":{"content":[{"type":"text","text":"` + text + `"}]}}
{"type":"result","result":"` + text + `","duration_ms":5,"is_error":false}
`
}

func newTestBridge(t *testing.T, launcher agent.Launcher, surface Surface) *Bridge {
	t.Helper()
	runner := agent.NewRunner(agent.RunnerOptions{Launcher: launcher})
	return New(Options{Runner: runner, Surface: surface, Interval: time.Millisecond})
}

func TestBridgeFreshMessageDeliversResult(t *testing.T) {
	surface := &fakeSurface{}
	launcher := &scriptLauncher{scripts: []string{script("S1", "all done")}}
	bridge := newTestBridge(t, launcher, surface)

	require.NoError(t, bridge.HandleMessage(context.Background(), "", "do the thing", agent.TurnOptions{}))

	require.Eventually(t, func() bool {
		return len(surface.finalCopy()) >= 2
	}, 2*time.Second, 5*time.Millisecond, "final output never delivered")

	finals := surface.finalCopy()
	assert.Equal(t, "all done", finals[0])
	assert.Contains(t, finals[1], agent.FormatResumeToken("S1"))

	surface.mu.Lock()
	progress := append([]string(nil), surface.progress...)
	surface.mu.Unlock()
	require.Len(t, progress, 1)
	assert.Equal(t, "Thinking...", progress[0])
}

func TestBridgeFollowUpGoesThroughQueue(t *testing.T) {
	surface := &fakeSurface{}
	launcher := &scriptLauncher{scripts: []string{script("S1", "follow-up done")}}
	bridge := newTestBridge(t, launcher, surface)

	require.NoError(t, bridge.HandleMessage(context.Background(), "S1", "more please", agent.TurnOptions{}))

	require.Eventually(t, func() bool {
		return len(surface.finalCopy()) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	require.Len(t, launcher.specs, 1)
	assert.Equal(t, "S1", launcher.specs[0].ResumeID, "follow-up must resume the session")
}

func TestBridgePreSessionMessagesFlushInOrder(t *testing.T) {
	surface := &fakeSurface{}
	pr, pw := io.Pipe()
	launcher := &scriptLauncher{scripts: []string{script("S1", "second"), script("S1", "third")}}

	var gateMu sync.Mutex
	first := true
	gated := launcherFunc(func(ctx context.Context, spec agent.LaunchSpec) (agent.Handle, error) {
		gateMu.Lock()
		takeFirst := first
		first = false
		gateMu.Unlock()
		if takeFirst {
			return &scriptHandle{stdout: pr}, nil
		}
		return launcher.Launch(ctx, spec)
	})

	bridge := newTestBridge(t, gated, surface)
	require.NoError(t, bridge.HandleMessage(context.Background(), "", "first", agent.TurnOptions{}))

	// Session id still unknown: these must wait, not spawn processes.
	require.NoError(t, bridge.HandleMessage(context.Background(), "", "second", agent.TurnOptions{}))
	require.NoError(t, bridge.HandleMessage(context.Background(), "", "third", agent.TurnOptions{}))
	launcher.mu.Lock()
	spawned := len(launcher.specs)
	launcher.mu.Unlock()
	require.Zero(t, spawned, "pre-session messages must not spawn turns")

	_, err := io.WriteString(pw, script("S1", "first done"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	require.Eventually(t, func() bool {
		launcher.mu.Lock()
		defer launcher.mu.Unlock()
		return len(launcher.specs) == 2
	}, 2*time.Second, 5*time.Millisecond, "held messages never flushed")

	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	assert.Equal(t, "second", launcher.specs[0].Prompt)
	assert.Equal(t, "third", launcher.specs[1].Prompt)
	for _, spec := range launcher.specs {
		assert.Equal(t, "S1", spec.ResumeID)
	}
}

type launcherFunc func(ctx context.Context, spec agent.LaunchSpec) (agent.Handle, error)

func (f launcherFunc) Launch(ctx context.Context, spec agent.LaunchSpec) (agent.Handle, error) {
	return f(ctx, spec)
}

func TestBridgeFailureMessage(t *testing.T) {
	surface := &fakeSurface{}
	bridge := newTestBridge(t, &scriptLauncher{}, surface)

	bridge.deliver(agent.TurnResult{SessionID: "S1", Text: "Timeout exceeded."})

	finals := surface.finalCopy()
	require.Len(t, finals, 1)
	assert.Equal(t, "Sorry, that didn't work: Timeout exceeded.", finals[0])
}

// ctxAwareSurface refuses calls made on a dead context, like a chat client
// built on net/http would.
type ctxAwareSurface struct {
	fakeSurface
}

func (s *ctxAwareSurface) SendFinal(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeSurface.SendFinal(ctx, text)
}

// hangingHandle never produces output; it exits only when signalled.
type hangingHandle struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

func (h *hangingHandle) Stdout() io.Reader { return h.pr }
func (h *hangingHandle) Terminate() error  { return h.pw.Close() }
func (h *hangingHandle) Kill() error       { return h.pw.Close() }
func (h *hangingHandle) Wait() error       { return nil }

func TestBridgeCancelStillDeliversFailureNotice(t *testing.T) {
	surface := &ctxAwareSurface{}
	pr, pw := io.Pipe()
	launcher := launcherFunc(func(context.Context, agent.LaunchSpec) (agent.Handle, error) {
		return &hangingHandle{pr: pr, pw: pw}, nil
	})
	bridge := newTestBridge(t, launcher, surface)

	require.NoError(t, bridge.HandleMessage(context.Background(), "", "do the thing", agent.TurnOptions{}))
	require.Eventually(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return len(bridge.tasks) == 1
	}, 2*time.Second, 5*time.Millisecond, "task never registered")

	require.True(t, bridge.Cancel("msg-1"))

	require.Eventually(t, func() bool {
		return len(surface.finalCopy()) == 1
	}, 2*time.Second, 5*time.Millisecond, "cancellation notice never delivered")
	assert.Equal(t, "Sorry, that didn't work: Cancelled.", surface.finalCopy()[0])
}

func TestBridgeCancelUnknownTask(t *testing.T) {
	bridge := newTestBridge(t, &scriptLauncher{}, &fakeSurface{})
	assert.False(t, bridge.Cancel("no-such-task"))
}

func TestRenderState(t *testing.T) {
	assert.Equal(t, "Thinking...", renderState(StateThinking, ""))
	assert.Equal(t, "Writing...", renderState(StateWriting, ""))
	assert.Equal(t, "Working...", renderState(StateTool, ""))
	assert.Equal(t, "Working: go test ./...", renderState(StateTool, "go test ./..."))
}

func TestChunkMessage(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello"}, chunkMessage("hello", 4000))
	})

	t.Run("empty text is no chunks", func(t *testing.T) {
		assert.Nil(t, chunkMessage("", 4000))
	})

	t.Run("splits at limit", func(t *testing.T) {
		chunks := chunkMessage(strings.Repeat("a", 250), 100)
		require.Len(t, chunks, 3)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), 100)
		}
		assert.Equal(t, strings.Repeat("a", 250), strings.Join(chunks, ""))
	})

	t.Run("prefers newline boundary", func(t *testing.T) {
		text := strings.Repeat("x", 80) + "\n" + strings.Repeat("y", 80)
		chunks := chunkMessage(text, 100)
		require.Len(t, chunks, 2)
		assert.Equal(t, strings.Repeat("x", 80), chunks[0])
		assert.Equal(t, strings.Repeat("y", 80), chunks[1])
	})

	t.Run("never splits a rune", func(t *testing.T) {
		text := strings.Repeat("é", 100)
		for _, chunk := range chunkMessage(text, 51) {
			assert.True(t, utf8.ValidString(chunk), "chunk %q splits a rune", chunk)
		}
	})
}
