// Package doctor runs environment preflight checks: the agent binary, the
// optional terminal strategy's tmux dependency, configuration, and the log
// directory.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/steward-bot/steward/internal/config"
)

// CheckResult is one preflight check outcome.
type CheckResult struct {
	Name     string
	OK       bool
	Required bool
	Detail   string
}

// Doctor runs preflight checks with injectable probes for testing.
type Doctor struct {
	lookPath func(file string) (string, error)
	loadCfg  func() (*config.Config, error)
	homeDir  func() (string, error)
}

// New returns a Doctor using real filesystem and PATH probes.
func New() *Doctor {
	return &Doctor{
		lookPath: exec.LookPath,
		loadCfg:  config.Load,
		homeDir:  os.UserHomeDir,
	}
}

// Run executes all checks and reports their results in a stable order.
func (d *Doctor) Run() []CheckResult {
	cfg, cfgErr := d.loadCfg()
	results := []CheckResult{d.checkConfig(cfgErr)}

	binary := ""
	if cfg != nil {
		binary = cfg.AgentBinary
	}
	results = append(results,
		d.checkBinary("agent binary", binary, true),
		d.checkBinary("tmux (terminal strategy)", "tmux", false),
		d.checkLogDir(),
	)
	return results
}

// Healthy reports whether every required check passed.
func Healthy(results []CheckResult) bool {
	for _, result := range results {
		if result.Required && !result.OK {
			return false
		}
	}
	return true
}

func (d *Doctor) checkConfig(err error) CheckResult {
	if err != nil {
		return CheckResult{Name: "config", Required: true, Detail: err.Error()}
	}
	return CheckResult{Name: "config", OK: true, Required: true, Detail: "loaded"}
}

func (d *Doctor) checkBinary(name, binary string, required bool) CheckResult {
	if binary == "" {
		return CheckResult{Name: name, Required: required, Detail: "no binary configured"}
	}
	path, err := d.lookPath(binary)
	if err != nil {
		return CheckResult{Name: name, Required: required, Detail: fmt.Sprintf("%s not found on PATH", binary)}
	}
	return CheckResult{Name: name, OK: true, Required: required, Detail: path}
}

func (d *Doctor) checkLogDir() CheckResult {
	home, err := d.homeDir()
	if err != nil {
		return CheckResult{Name: "log directory", Required: true, Detail: err.Error()}
	}
	logDir := filepath.Join(home, ".steward", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return CheckResult{Name: "log directory", Required: true, Detail: err.Error()}
	}
	return CheckResult{Name: "log directory", OK: true, Required: true, Detail: logDir}
}
