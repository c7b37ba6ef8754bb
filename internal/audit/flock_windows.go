//go:build windows

package audit

import "os"

// lockFile is a no-op on Windows; appends are only serialised within one process.
func lockFile(_ *os.File) error   { return nil }
func unlockFile(_ *os.File) error { return nil }
