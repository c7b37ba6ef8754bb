// Package audit writes the append-only update log.
//
// Each record is one text line, "[<timestamp>] <message>". Appends from
// goroutines and from other processes are serialised with a mutex and an
// exclusive flock on the log file, so lines never interleave.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nammalakes/nodeup/pkg/logging"
)

// TimeLayout is the timestamp format written inside the brackets.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Log accepts audit messages. Append never fails from the caller's view.
type Log interface {
	Append(message string)
}

// Discard is a Log that drops every message.
var Discard Log = discard{}

type discard struct{}

func (discard) Append(string) {}

// FileAppender appends audit records to a text file.
type FileAppender struct {
	path    string
	mu      sync.Mutex
	now     func() time.Time
	onError func(error)
}

// Option configures a FileAppender.
type Option func(*FileAppender)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *FileAppender) { a.now = now }
}

// WithErrorHandler receives write failures in addition to the operational log.
func WithErrorHandler(fn func(error)) Option {
	return func(a *FileAppender) { a.onError = fn }
}

// NewFileAppender creates a new FileAppender. The file and its parent
// directory are created on first append.
func NewFileAppender(path string, opts ...Option) *FileAppender {
	a := &FileAppender{path: path, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Path returns the log file path.
func (a *FileAppender) Path() string {
	return a.path
}

// Append writes one record. Failures are reported to the operational logger
// and the error handler, never to the caller.
func (a *FileAppender) Append(message string) {
	if err := a.write(message); err != nil {
		logging.ErrorErr("audit append failed", err, map[string]any{"path": a.path})
		if a.onError != nil {
			a.onError(err)
		}
	}
}

func (a *FileAppender) write(message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return fmt.Errorf("flock audit log: %w", err)
	}
	defer unlockFile(file)

	line := FormatRecord(a.now(), message)
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

// FormatRecord renders one log line including the trailing newline.
// Newlines inside message are flattened so a record is always one line.
func FormatRecord(ts time.Time, message string) string {
	return "[" + ts.Format(TimeLayout) + "] " + flatten(message) + "\n"
}

func flatten(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '\n' || c == '\r' {
			b[i] = ' '
		}
	}
	return string(b)
}
