package audit_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nammalakes/nodeup/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestFileAppender_WritesTextLine(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "update_logs.txt")

	a := audit.NewFileAppender(logPath, audit.WithClock(fixedClock()))
	a.Append("Backup created for n2.")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "[2024-05-01T12:30:00.000Z] Backup created for n2.\n", string(data))
}

func TestFileAppender_AppendsInOrder(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "update_logs.txt")
	a := audit.NewFileAppender(logPath)

	a.Append("first")
	a.Append("second")
	a.Append("third")

	records, err := audit.ReadRecords(logPath)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "first", records[0].Message)
	assert.Equal(t, "third", records[2].Message)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestFileAppender_FlattensNewlines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "update_logs.txt")
	a := audit.NewFileAppender(logPath)

	a.Append("pull failed:\nCONFLICT (content)")

	records, err := audit.ReadRecords(logPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pull failed: CONFLICT (content)", records[0].Message)
}

func TestFileAppender_ConcurrentAppends(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "update_logs.txt")
	a := audit.NewFileAppender(logPath)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			a.Append(fmt.Sprintf("node-%02d %s", n, strings.Repeat("x", 512)))
		}(i)
	}
	wg.Wait()

	records, err := audit.ReadRecords(logPath)
	require.NoError(t, err)
	require.Len(t, records, 20)
	for _, r := range records {
		assert.False(t, r.Timestamp.IsZero(), "line was interleaved: %q", r.Message)
		assert.Len(t, r.Message, len("node-00 ")+512)
	}
}

func TestFileAppender_WriteFailureIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	// a directory where the log file should be makes every open fail
	logPath := filepath.Join(dir, "update_logs.txt")
	require.NoError(t, os.Mkdir(logPath, 0755))

	var got []error
	a := audit.NewFileAppender(logPath, audit.WithErrorHandler(func(err error) {
		got = append(got, err)
	}))

	assert.NotPanics(t, func() { a.Append("Backup created for n1.") })
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error(), "open audit log")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { audit.Discard.Append("anything") })
}
