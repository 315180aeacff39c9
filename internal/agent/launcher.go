//go:build !windows

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

const defaultBinary = "claude"

// The agent authenticates through its own mechanism; a direct API billing
// credential in the child environment would silently change how usage is
// billed, so it is always stripped.
var strippedEnv = []string{"ANTHROPIC_API_KEY"}

// LaunchSpec describes one agent process invocation.
type LaunchSpec struct {
	// Prompt is written to the child's stdin, never passed as argv.
	Prompt string
	// Model selects the agent capability tier.
	Model string
	// ResumeID resumes an existing agent session when non-empty.
	ResumeID string
	// CWD is the working directory visible to the agent. Empty inherits
	// the parent's.
	CWD string
}

// Handle is a live agent process: its event stream plus termination controls.
type Handle interface {
	// Stdout is the process's standard output stream.
	Stdout() io.Reader
	// Terminate requests graceful termination, group-wide where the
	// platform allows it.
	Terminate() error
	// Kill forcefully ends the process group.
	Kill() error
	// Wait blocks until the process exits and releases its resources.
	Wait() error
}

// Launcher spawns agent processes. Implemented by CLILauncher; tests
// substitute fakes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Handle, error)
}

// CLILauncher spawns the one-shot agent CLI in event-stream mode.
type CLILauncher struct {
	binary string
}

// NewCLILauncher returns a launcher for the given agent binary. An empty
// binary falls back to "claude".
func NewCLILauncher(binary string) *CLILauncher {
	if binary == "" {
		binary = defaultBinary
	}
	return &CLILauncher{binary: binary}
}

var _ Launcher = (*CLILauncher)(nil)

// Launch starts the agent process and begins writing the prompt to its
// stdin. Spawn failures are returned immediately and are not retried.
func (l *CLILauncher) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	binary, err := exec.LookPath(l.binary)
	if err != nil {
		return nil, fmt.Errorf("agent binary %s: %w", l.binary, err)
	}

	cmd := exec.Command(binary, buildArgs(spec)...)
	if spec.CWD != "" {
		cmd.Dir = spec.CWD
	}
	cmd.Env = stripEnv(os.Environ(), strippedEnv...)
	// Own process group so one signal reaches any children the agent spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.binary, err)
	}

	// Feed the prompt concurrently with decoding; a large prompt can
	// exceed the pipe buffer before the agent starts reading.
	go func() {
		_, _ = io.WriteString(stdin, spec.Prompt)
		_ = stdin.Close()
	}()

	// ctx is accepted for interface symmetry but deliberately not bound to
	// the process: cancellation goes through Terminate/Kill so the child
	// gets its grace window instead of an immediate SIGKILL from exec.
	_ = ctx
	return &cliHandle{cmd: cmd, stdout: stdout}, nil
}

// buildArgs assembles the CLI flags: non-interactive mode, event-stream
// output, diagnostics, capability tier, and optionally session resumption.
func buildArgs(spec LaunchSpec) []string {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.ResumeID != "" {
		args = append(args, "--resume", spec.ResumeID)
	}
	return args
}

// stripEnv returns environ without the named variables.
func stripEnv(environ []string, names ...string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		skip := false
		for _, name := range names {
			if strings.HasPrefix(kv, name+"=") {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, kv)
		}
	}
	return out
}

type cliHandle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (h *cliHandle) Stdout() io.Reader {
	return h.stdout
}

func (h *cliHandle) Terminate() error {
	return h.signalGroup(syscall.SIGTERM)
}

func (h *cliHandle) Kill() error {
	return h.signalGroup(syscall.SIGKILL)
}

func (h *cliHandle) Wait() error {
	return h.cmd.Wait()
}

// signalGroup signals the whole process group, falling back to the direct
// child if the group is gone. An already-exited process is not an error.
func (h *cliHandle) signalGroup(sig syscall.Signal) error {
	pid := h.cmd.Process.Pid
	err := syscall.Kill(-pid, sig)
	if err == nil || err == syscall.ESRCH {
		return nil
	}
	if sigErr := h.cmd.Process.Signal(sig); sigErr == nil || errors.Is(sigErr, os.ErrProcessDone) {
		return nil
	}
	return err
}
