package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Secrets stripped in the terminal strategy on top of strippedEnv. A
// long-lived interactive pane outlives the spawning request, so unrelated
// provider keys must not leak into it.
var terminalStrippedEnv = []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "GROQ_API_KEY"}

// CommandRunner executes shell commands for tmux orchestration.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type defaultCommandRunner struct{}

func (d defaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return nil, fmt.Errorf("run %s: %w", name, err)
		}
		return nil, fmt.Errorf("run %s: %w (%s)", name, err, trimmed)
	}
	return out, nil
}

// TerminalSession describes an agent running in a detached tmux session
// that a human can attach to.
type TerminalSession struct {
	Name      string
	PID       int
	StartedAt time.Time
}

// TerminalLauncher is the alternate long-lived invocation strategy: instead
// of a one-shot event-stream process, the agent runs interactively inside a
// detached tmux session. It produces no event stream; it exists for manual
// takeover of a session.
type TerminalLauncher struct {
	runner CommandRunner
	binary string
	now    func() time.Time
}

// NewTerminalLauncher returns a tmux-backed launcher for the given agent
// binary. An empty binary falls back to "claude".
func NewTerminalLauncher(binary string) *TerminalLauncher {
	if binary == "" {
		binary = defaultBinary
	}
	return &TerminalLauncher{
		runner: defaultCommandRunner{},
		binary: binary,
		now:    time.Now,
	}
}

// NewTerminalLauncherWithRunner returns a launcher with an injectable
// command runner.
func NewTerminalLauncherWithRunner(runner CommandRunner, binary string) (*TerminalLauncher, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	launcher := NewTerminalLauncher(binary)
	launcher.runner = runner
	return launcher, nil
}

// Start creates a detached tmux session running the agent interactively.
// The LaunchSpec prompt is ignored in this strategy; the human types into
// the attached pane.
func (l *TerminalLauncher) Start(ctx context.Context, spec LaunchSpec) (*TerminalSession, error) {
	name := l.sessionName(spec)
	command := l.terminalCommand(spec)

	args := []string{"new-session", "-d", "-s", name}
	if spec.CWD != "" {
		args = append(args, "-c", spec.CWD)
	}
	args = append(args, command)
	if _, err := l.runner.Run(ctx, "tmux", args...); err != nil {
		return nil, fmt.Errorf("create terminal session %s: %w", name, err)
	}

	pid := 0
	if out, err := l.runner.Run(ctx, "tmux", "list-panes", "-t", name, "-F", "#{pane_pid}"); err == nil {
		pid = parsePanePID(string(out))
	}

	return &TerminalSession{Name: name, PID: pid, StartedAt: l.now().UTC()}, nil
}

// Stop ends a terminal session.
func (l *TerminalLauncher) Stop(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("session name is required")
	}
	if _, err := l.runner.Run(ctx, "tmux", "kill-session", "-t", name); err != nil {
		return fmt.Errorf("kill terminal session %s: %w", name, err)
	}
	return nil
}

func (l *TerminalLauncher) sessionName(spec LaunchSpec) string {
	if spec.ResumeID != "" {
		return "steward-" + spec.ResumeID
	}
	return "steward-" + l.now().UTC().Format("20060102-150405")
}

// terminalCommand builds the pane command: env(1) strips the secrets, then
// the agent runs interactively (no -p, no event stream).
func (l *TerminalLauncher) terminalCommand(spec LaunchSpec) string {
	parts := []string{"env"}
	for _, name := range strippedEnv {
		parts = append(parts, "-u", name)
	}
	for _, name := range terminalStrippedEnv {
		parts = append(parts, "-u", name)
	}
	parts = append(parts, l.binary)
	if spec.Model != "" {
		parts = append(parts, "--model", spec.Model)
	}
	if spec.ResumeID != "" {
		parts = append(parts, "--resume", spec.ResumeID)
	}
	return strings.Join(parts, " ")
}

func parsePanePID(output string) int {
	firstLine := strings.TrimSpace(strings.SplitN(strings.TrimSpace(output), "\n", 2)[0])
	if firstLine == "" {
		return 0
	}
	pid, err := strconv.Atoi(firstLine)
	if err != nil || pid < 0 {
		return 0
	}
	return pid
}
