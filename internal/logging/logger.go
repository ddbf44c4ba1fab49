// Package logging builds the file-backed structured logger used across the
// report pipeline. Capture code logs diagnostics here instead of polluting
// the test process's stdout.
package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	sessionID string
	verbose   bool
}

// WithSessionID configures the session_id field used in emitted log records.
func WithSessionID(sessionID string) Option {
	return func(opts *newOptions) {
		opts.sessionID = strings.TrimSpace(sessionID)
	}
}

// WithVerbose lowers the log level to debug.
func WithVerbose(verbose bool) Option {
	return func(opts *newOptions) {
		opts.verbose = verbose
	}
}

// RuntimeLogger writes structured JSON logs to disk.
type RuntimeLogger struct {
	Logger     *log.Logger
	file       *os.File
	path       string
	baseLogger *log.Logger
	sessionID  string
}

// New initializes logging under ~/.ebr/logs without writing to stdout.
func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, ".ebr", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	resolved := resolveOptions(options)
	timestamp := time.Now().UTC().Format("20060102-150405")
	fileName := fmt.Sprintf("ebr-%s.log", timestamp)
	if resolved.sessionID != "" {
		fileName = fmt.Sprintf("ebr-%s-%s.log", timestamp, resolved.sessionID)
	}
	filePath := filepath.Join(logDir, fileName)
	// #nosec G304 -- filePath is constructed from trusted local paths.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	level := log.InfoLevel
	if resolved.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(file, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		file:       file,
		path:       filePath,
		baseLogger: logger,
		sessionID:  resolved.sessionID,
	}
	runtimeLogger.rebuildLogger()
	runtimeLogger.Logger.With("log_file", filePath).Info("logger initialized")

	_ = ctx
	return runtimeLogger, nil
}

// WithSessionID updates the session_id field for subsequent log records.
func (r *RuntimeLogger) WithSessionID(sessionID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.sessionID = strings.TrimSpace(sessionID)
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	r.Logger = r.baseLogger.With("session_id", r.sessionID)
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}
