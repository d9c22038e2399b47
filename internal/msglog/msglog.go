// Package msglog appends every raw inbound message to a plain text
// file. It is a dumb capture-everything journal kept separate from the
// structured conversation log, so nothing is lost even when the rest of
// the pipeline misbehaves.
package msglog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log appends inbound messages to a single text file. Safe for
// concurrent use.
type Log struct {
	mu   sync.Mutex
	path string
}

// New creates the log file's directory if needed and returns a Log
// writing to path.
func New(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create message log dir: %w", err)
		}
	}
	return &Log{path: path}, nil
}

// Append writes one message entry. Each entry is a header line with the
// timestamp and sender, the message text, and a blank separator line.
func (l *Log) Append(userID int64, username, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	entry := fmt.Sprintf("[%s] user_id=%d username=%s\n%s\n\n",
		time.Now().UTC().Format(time.RFC3339), userID, username, text)
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	return nil
}
