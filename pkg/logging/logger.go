// Package logging provides the logging collaborator used by the
// authenticator. Loggers are injected, never ambient: the setup orchestrator
// receives a file-backed logger and every TPM step reports through it.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger wraps slog with a severity threshold and an optional owned log file.
type Logger struct {
	logger *slog.Logger
	file   *os.File
	debug  bool
}

// NewLogger creates a logger that writes to stderr.
func NewLogger(debug bool) *Logger {
	return newLogger(os.Stderr, nil, debug)
}

// NewFileLogger creates a logger backed by a file at <dir>/<filename>,
// creating dir if needed. The file is opened in append mode so repeated
// setup runs share one log. The caller owns the logger and must Close it.
func NewFileLogger(dir, filename string, debug bool) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	path := filepath.Clean(filepath.Join(dir, filename))
	// #nosec G304 -- log path is derived from operator-supplied configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("logging: failed to open log file %s: %w", path, err)
	}
	return newLogger(f, f, debug), nil
}

func newLogger(w io.Writer, f *os.File, debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{
		logger: slog.New(handler),
		file:   f,
		debug:  debug,
	}
}

// Close closes the underlying log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the log file path, or "" for stderr loggers.
func (l *Logger) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Infof logs a formatted informational message
func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	if l.debug {
		l.logger.Debug(msg)
	}
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...any) {
	if l.debug {
		l.logger.Debug(fmt.Sprintf(format, args...))
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error
func (l *Logger) Error(err error) {
	l.logger.Error(err.Error())
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// FatalError logs a fatal error and exits
func (l *Logger) FatalError(err error) {
	log.Fatal(err)
}

// MaybeError logs an error if it's not nil
func (l *Logger) MaybeError(err error) {
	if err != nil {
		l.logger.Error(err.Error())
	}
}

// DefaultLogger returns a stderr logger with debug=false
func DefaultLogger() *Logger {
	return NewLogger(false)
}
