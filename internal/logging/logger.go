package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// RuntimeLogger writes structured JSON logs to disk.
type RuntimeLogger struct {
	Logger *log.Logger
	file   *os.File
	path   string
}

// New initializes logging under ~/.steward/logs without writing to stdout.
// maxFiles caps how many historical log files are kept; older ones are
// pruned at startup.
func New(maxFiles int) (*RuntimeLogger, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, ".steward", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if maxFiles > 0 {
		pruneOldLogs(logDir, maxFiles)
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	filePath := filepath.Join(logDir, fmt.Sprintf("steward-%s.log", timestamp))
	// #nosec G304 -- filePath is constructed from trusted local paths.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.NewWithOptions(file, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)
	logger.With("log_file", filePath).Info("logger initialized")

	return &RuntimeLogger{Logger: logger, file: file, path: filePath}, nil
}

// Path returns the active log file path.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Close flushes and closes the underlying log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// pruneOldLogs keeps the newest maxFiles-1 log files so the new file stays
// within the cap. Prune failures are ignored; logging must not abort startup.
func pruneOldLogs(logDir string, maxFiles int) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "steward-") && strings.HasSuffix(name, ".log") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for len(names) >= maxFiles && len(names) > 0 {
		_ = os.Remove(filepath.Join(logDir, names[0]))
		names = names[1:]
	}
}
