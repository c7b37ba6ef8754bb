// Package errclass defines the stable error classes reported by nodeup.
package errclass

import (
	"errors"
	"fmt"
)

// Error is a stable, machine-readable error class.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrRemoteUnavailable = &Error{Code: "E_REMOTE_UNAVAILABLE"}
	ErrNotAWorkingTree   = &Error{Code: "E_NOT_A_WORKING_TREE"}
	ErrUnknownNode       = &Error{Code: "E_UNKNOWN_NODE"}
	ErrBackupFailed      = &Error{Code: "E_BACKUP_FAILED"}
	ErrPullFailed        = &Error{Code: "E_PULL_FAILED"}
	ErrRestoreFailed     = &Error{Code: "E_RESTORE_FAILED"}
	ErrNoBackupFound     = &Error{Code: "E_NO_BACKUP_FOUND"}
	ErrNodeBusy          = &Error{Code: "E_NODE_BUSY"}
	ErrNameInvalid       = &Error{Code: "E_NAME_INVALID"}
	ErrPathEscape        = &Error{Code: "E_PATH_ESCAPE"}
	ErrConfigInvalid     = &Error{Code: "E_CONFIG_INVALID"}
	ErrShuttingDown      = &Error{Code: "E_SHUTTING_DOWN"}
)

// Code extracts the error class code from err, or "" if err carries none.
// When err wraps several classes the first one found wins.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
