// Package logging writes leveled, structured log lines for nodeup. Lines are
// JSON by default; text is available for interactive use.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// Level is a log severity as spelled in configuration.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var severity = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// enabled reports whether l passes a threshold of min. Unknown levels count as info.
func (l Level) enabled(min Level) bool {
	rank := func(x Level) int {
		if r, ok := severity[x]; ok {
			return r
		}
		return severity[LevelInfo]
	}
	return rank(l) >= rank(min)
}

// ParseLevel maps a configured level to a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	}
	if _, ok := severity[Level(s)]; ok {
		return Level(s), nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Format selects the line encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// LogEntry is one JSON log line.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// sink is the destination shared by a logger and all loggers derived from it.
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	min    Level
	format Format
}

// Logger attaches a fixed set of fields to every line it writes.
type Logger struct {
	out    *sink
	fields map[string]any
}

// NewLogger returns a JSON logger on stderr that drops lines below level.
func NewLogger(level Level) *Logger {
	return &Logger{out: &sink{w: os.Stderr, min: level, format: FormatJSON}}
}

// WithFields derives a logger that adds fields to its parent's. Both write
// through the same sink, so output and level settings are shared.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := maps.Clone(l.fields)
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	maps.Copy(merged, fields)
	return &Logger{out: l.out, fields: merged}
}

func (l *Logger) Debug(msg string, fields ...map[string]any) { l.write(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...map[string]any)  { l.write(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...map[string]any)  { l.write(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...map[string]any) { l.write(LevelError, msg, fields) }

// ErrorErr logs at error level with err under the "error" key.
func (l *Logger) ErrorErr(msg string, err error, fields ...map[string]any) {
	l.write(LevelError, msg, append(fields, map[string]any{"error": err.Error()}))
}

func (l *Logger) write(level Level, msg string, extra []map[string]any) {
	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()
	if !level.enabled(s.min) {
		return
	}

	e := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
	}
	if n := len(l.fields) + len(extra); n > 0 {
		e.Fields = maps.Clone(l.fields)
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		for _, f := range extra {
			maps.Copy(e.Fields, f)
		}
		if len(e.Fields) == 0 {
			e.Fields = nil
		}
	}

	if s.format == FormatText {
		io.WriteString(s.w, e.text())
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(s.w, "{\"level\":\"error\",\"message\":%q}\n", "unencodable log entry: "+msg)
		return
	}
	s.w.Write(append(line, '\n'))
}

// text renders e as "TIME LEVEL message k=v ..." with keys sorted.
func (e LogEntry) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", e.Timestamp, strings.ToUpper(string(e.Level)), e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	b.WriteByte('\n')
	return b.String()
}

// SetOutput redirects the logger and everything derived from it.
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	l.out.w = w
	l.out.mu.Unlock()
}

func (l *Logger) SetLevel(level Level) {
	l.out.mu.Lock()
	l.out.min = level
	l.out.mu.Unlock()
}

// SetFormat switches encoding. Anything other than FormatText means JSON.
func (l *Logger) SetFormat(f Format) {
	if f != FormatText {
		f = FormatJSON
	}
	l.out.mu.Lock()
	l.out.format = f
	l.out.mu.Unlock()
}

var (
	globalMu sync.RWMutex
	global   = NewLogger(LevelInfo)
)

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// Global returns the process-wide logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

func Debug(msg string, fields ...map[string]any) { Global().Debug(msg, fields...) }
func Info(msg string, fields ...map[string]any)  { Global().Info(msg, fields...) }

func ErrorErr(msg string, err error, fields ...map[string]any) {
	Global().ErrorErr(msg, err, fields...)
}

// WithFields derives from the global logger.
func WithFields(fields map[string]any) *Logger {
	return Global().WithFields(fields)
}
