// Package eventlog implements the Event Logger (spec §4.3) and Event Reader
// (spec §4.2): the append-only JSONL file that is the single source of
// truth for one run's events, shared between the in-process engine and the
// external `ralph emit` tool.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ralph-run/ralph/internal/events"
)

// Logger appends Events to a JSONL file, one per line. It owns JSON
// serialization so no line can ever contain a raw newline (spec §4.3).
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger returns a Logger that appends to path, creating its parent
// directory on first use.
func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

// PublishRecord appends one Event as a single JSONL line. On I/O failure it
// returns an error but the caller (the engine) must not treat that as fatal
// — the record is lost and a diagnostic is logged, per spec §4.3 and the
// "Lost events-file writes" row of spec §7's error table.
func (l *Logger) PublishRecord(e events.Event) error {
	line, err := events.MarshalLine(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create events directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Path returns the file the logger writes to.
func (l *Logger) Path() string {
	return l.path
}
