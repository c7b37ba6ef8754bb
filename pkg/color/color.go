// Package color decorates CLI output with ANSI colors. Output stays plain
// when NO_COLOR is set, TERM is dumb or --no-color is passed.
package color

import (
	"os"
	"sync"
	"sync/atomic"
)

var (
	enabled  atomic.Bool
	initOnce sync.Once
)

// Init settles color use once per process. Later calls are ignored.
func Init(noColor bool) {
	initOnce.Do(func() {
		_, noColorEnv := os.LookupEnv("NO_COLOR")
		enabled.Store(!noColor && !noColorEnv && os.Getenv("TERM") != "dumb")
	})
}

// Enabled reports whether output is colored.
func Enabled() bool {
	Init(false)
	return enabled.Load()
}

// Disable forces plain output.
func Disable() {
	Init(false)
	enabled.Store(false)
}

// Enable forces colored output.
func Enable() {
	Init(false)
	enabled.Store(true)
}

type style string

const (
	plain  style = "\033[0m"
	faint  style = "\033[2m"
	red    style = "\033[31m"
	green  style = "\033[32m"
	yellow style = "\033[33m"
	cyan   style = "\033[36m"
)

func (s style) paint(text string) string {
	if !Enabled() {
		return text
	}
	return string(s) + text + string(plain)
}

func Success(s string) string { return green.paint(s) }
func Error(s string) string { return red.paint(s) }
func Warning(s string) string { return yellow.paint(s) }
func NodeID(s string) string { return cyan.paint(s) }
func Dim(s string) string { return faint.paint(s) }

// Result paints s green when ok and red otherwise.
func Result(ok bool, s string) string {
	if ok {
		return Success(s)
	}
	return Error(s)
}
