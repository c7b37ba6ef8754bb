package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger(LevelInfo)
	if logger.out.min != LevelInfo || logger.out.format != FormatJSON {
		t.Errorf("unexpected defaults: level %s format %s", logger.out.min, logger.out.format)
	}
}

func TestLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelDebug)
	logger.SetOutput(&buf)

	logger.Debug("test message", map[string]any{"key": "value"})

	output := buf.String()
	if !strings.Contains(output, `"level":"debug"`) {
		t.Errorf("expected debug level in output, got: %s", output)
	}
	if !strings.Contains(output, `"message":"test message"`) {
		t.Errorf("expected message in output, got: %s", output)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn)
	logger.SetOutput(&buf)

	logger.Debug("d")
	logger.Info("i")
	if buf.Len() > 0 {
		t.Errorf("expected no output below warn, got: %s", buf.String())
	}

	logger.Warn("w")
	logger.Error("e")
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d: %s", got, buf.String())
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo)
	logger.SetOutput(&buf)

	child := logger.WithFields(map[string]any{"node": "n1"})
	child.Info("pulled", map[string]any{"rev": "abc"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Fields["node"] != "n1" || entry.Fields["rev"] != "abc" {
		t.Errorf("unexpected fields: %v", entry.Fields)
	}
}

func TestLogger_ErrorErr(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo)
	logger.SetOutput(&buf)

	logger.ErrorErr("restore failed", errors.New("disk full"), map[string]any{"node": "n2"})

	output := buf.String()
	if !strings.Contains(output, `"error":"disk full"`) {
		t.Errorf("expected error field, got: %s", output)
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo)
	logger.SetOutput(&buf)
	logger.SetFormat(FormatText)

	logger.Info("serving", map[string]any{"listen": ":8000", "a": 1})

	output := buf.String()
	if !strings.Contains(output, "INFO  serving a=1 listen=:8000") {
		t.Errorf("unexpected text output: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"": LevelInfo, "DEBUG": LevelDebug, "warning": LevelWarn, "error": LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestGlobal(t *testing.T) {
	orig := Global()
	defer SetGlobal(orig)

	var buf bytes.Buffer
	l := NewLogger(LevelDebug)
	l.SetOutput(&buf)
	SetGlobal(l)

	Info("global info")
	WithFields(map[string]any{"k": "v"}).Warn("child warn")

	if !strings.Contains(buf.String(), "global info") || !strings.Contains(buf.String(), "child warn") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestLogger_ChildSharesSink(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(LevelInfo)
	child := parent.WithFields(map[string]any{"node": "n1"})
	parent.SetOutput(&buf)
	parent.SetLevel(LevelError)

	child.Info("dropped")
	child.Error("kept")

	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("child did not follow parent settings: %s", buf.String())
	}
}

func TestLogger_NoFieldsOmitted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo)
	logger.SetOutput(&buf)

	logger.Info("bare")
	if strings.Contains(buf.String(), "fields") {
		t.Errorf("expected no fields key: %s", buf.String())
	}
}
