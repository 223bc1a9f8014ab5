// Package logging provides the run-wide orchestration log: every event
// is timestamped, appended to a single log file and echoed live.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger appends timestamped lines to the run log file and echoes them
// to an output stream so the run can be followed live and inspected
// after the fact.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	echo io.Writer
}

// New opens (or creates) the log file at path, appending to any
// existing content. Echo output goes to stdout.
func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f, echo: os.Stdout}, nil
}

// NewWithEcho is New with a caller-provided echo stream (tests, TUI).
func NewWithEcho(path string, echo io.Writer) (*Logger, error) {
	l, err := New(path)
	if err != nil {
		return nil, err
	}
	l.echo = echo
	return l, nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{echo: io.Discard}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line to the log file and the echo
// stream.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	stamped := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339), line)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.WriteString(stamped)
	}
	if l.echo != nil {
		fmt.Fprint(l.echo, stamped)
	}
}

// Warnf logs a warning-prefixed line.
func (l *Logger) Warnf(format string, args ...any) {
	l.Printf("warning: "+format, args...)
}
