// Package fsutil holds the filesystem primitives node updates are built on:
// durable renames, same-directory staging names and crash-safe file writes.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// TempPrefix starts the name of every scratch file AtomicWrite leaves behind
// when a process dies mid-write.
const TempPrefix = ".nodeup-tmp-"

// AtomicWrite replaces path with data. A reader sees the previous content or
// the new one, never a torn file.
func AtomicWrite(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create scratch file in %s: %w", dir, err)
	}
	scratch := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(scratch)
		}
	}()

	if err = writeSynced(f, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close scratch for %s: %w", path, err)
	}
	return RenameAndSync(scratch, path)
}

func writeSynced(f *os.File, data []byte, perm os.FileMode) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	return f.Sync()
}

// RenameAndSync moves from onto to and flushes the destination directory so
// the new name survives a crash.
func RenameAndSync(from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(from), err)
	}
	return FsyncDir(filepath.Dir(to))
}

// FsyncDir flushes directory entries of dir.
func FsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open %s for sync: %w", dir, err)
	}
	syncErr := d.Sync()
	closeErr := d.Close()
	return errors.Join(syncErr, closeErr)
}

// DirExists reports whether path is a directory. A missing path is not an error.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	return info.IsDir(), nil
}

// RemoveTree deletes path recursively. Removing a missing path is a no-op.
func RemoveTree(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// SiblingPath names a hidden staging entry next to path. Staging beside the
// target keeps the final rename on one filesystem.
func SiblingPath(path, tag, nonce string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+tag+"-"+nonce)
}

