// Package progress reports step-by-step progress of node updates.
package progress

import (
	"fmt"
	"io"
	"sync"
)

// Callback receives progress updates. op names the node being updated,
// current/total count its steps.
type Callback func(op string, current, total int, message string)

// Noop is a no-op callback for default behavior.
func Noop(op string, current, total int, message string) {}

// Lines prints one human-readable line per progress update. It is safe for
// concurrent use by several nodes.
type Lines struct {
	mu       sync.Mutex
	w        io.Writer
	withNode bool
}

// NewLines creates a line printer. When withNode is set every line is
// prefixed with the node id, which is what a multi-node run wants.
func NewLines(w io.Writer, withNode bool) *Lines {
	return &Lines{w: w, withNode: withNode}
}

// Callback returns a Callback that writes to the printer.
func (l *Lines) Callback() Callback {
	return func(op string, current, total int, message string) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.withNode {
			fmt.Fprintf(l.w, "[%s] %s\n", op, message)
			return
		}
		fmt.Fprintln(l.w, message)
	}
}

// Fanout calls every non-nil callback in order.
func Fanout(cbs ...Callback) Callback {
	return func(op string, current, total int, message string) {
		for _, cb := range cbs {
			if cb != nil {
				cb(op, current, total, message)
			}
		}
	}
}
