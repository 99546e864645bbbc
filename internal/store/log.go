// ABOUTME: Append-only JSONL log: one JSON object per line, whole-line atomic appends.
// ABOUTME: LoadLastN replays the trailing lines at startup, skipping malformed ones.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Log is a durable append-only JSONL stream. A mutex serializes appends so
// concurrent pipeline completions never interleave partial lines.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a Log at path. The file is created lazily on first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append marshals v and writes it as one line. Best-effort contract: callers
// treat a returned error as observable (log + counter), never fatal.
func (l *Log) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("log append: marshal: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("log append: open %s: %w", l.path, err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("log append: write %s: %w", l.path, err)
	}
	return nil
}

// LoadLastN returns the trailing n lines in file order (oldest first).
// A missing file yields nil; malformed lines are skipped, not fatal.
func (l *Log) LoadLastN(n int) []json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close() //nolint:errcheck

	var lines []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		// Copy: scanner reuses its buffer.
		cp := make(json.RawMessage, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
