package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nammalakes/nodeup/pkg/fsutil"
	"github.com/nammalakes/nodeup/pkg/model"
)

// CopyEngine clones a tree file by file. It works on any filesystem.
type CopyEngine struct{}

// NewCopyEngine returns the portable engine.
func NewCopyEngine() *CopyEngine {
	return &CopyEngine{}
}

func (e *CopyEngine) Name() model.EngineType {
	return model.EngineCopy
}

// Clone copies src to dst. Directory modes are applied last, deepest first,
// so a read-only directory can still be filled.
func (e *CopyEngine) Clone(ctx context.Context, src, dst string) (*CloneResult, error) {
	if _, err := os.Lstat(dst); err == nil {
		return nil, fmt.Errorf("copy: destination %s already exists", dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("copy: stat destination: %w", err)
	}

	tc := &treeCopy{ctx: ctx, src: src, dst: dst}
	if err := filepath.WalkDir(src, tc.visit); err != nil {
		return nil, fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tc.seal(); err != nil {
		return nil, err
	}
	return &tc.result, nil
}

type pendingMode struct {
	path string
	mode fs.FileMode
}

// treeCopy carries the state of one Clone call.
type treeCopy struct {
	ctx      context.Context
	src, dst string
	result   CloneResult
	dirModes []pendingMode
}

func (tc *treeCopy) visit(path string, d fs.DirEntry, walkErr error) error {
	if walkErr != nil {
		return walkErr
	}
	if err := tc.ctx.Err(); err != nil {
		return err
	}
	rel, err := filepath.Rel(tc.src, path)
	if err != nil {
		return err
	}
	target := filepath.Join(tc.dst, rel)

	info, err := d.Info()
	if err != nil {
		return err
	}
	mode := info.Mode()

	switch {
	case mode.IsDir():
		return tc.dir(target, mode.Perm())
	case mode&fs.ModeSymlink != 0:
		return tc.symlink(path, target)
	case mode.IsRegular():
		return tc.file(path, target, info)
	}
	// devices, sockets and fifos are not part of a checkout
	return nil
}

func (tc *treeCopy) dir(target string, perm fs.FileMode) error {
	if err := os.MkdirAll(target, perm|0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", target, err)
	}
	tc.dirModes = append(tc.dirModes, pendingMode{target, perm})
	tc.result.Dirs++
	return nil
}

func (tc *treeCopy) symlink(path, target string) error {
	dest, err := os.Readlink(path)
	if err != nil {
		return fmt.Errorf("readlink %s: %w", path, err)
	}
	if err := os.Symlink(dest, target); err != nil {
		return fmt.Errorf("symlink %s: %w", target, err)
	}
	tc.result.Files++
	return nil
}

func (tc *treeCopy) file(path, target string, info fs.FileInfo) error {
	n, err := copyRegular(path, target, info.Mode().Perm())
	if err != nil {
		return err
	}
	if err := os.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("chtimes %s: %w", target, err)
	}
	tc.result.Files++
	tc.result.Bytes += n
	return nil
}

// seal restores directory modes and flushes the new root entry.
func (tc *treeCopy) seal() error {
	for i := len(tc.dirModes) - 1; i >= 0; i-- {
		p := tc.dirModes[i]
		if err := os.Chmod(p.path, p.mode); err != nil {
			return fmt.Errorf("chmod %s: %w", p.path, err)
		}
	}
	if err := fsutil.FsyncDir(tc.dst); err != nil {
		return fmt.Errorf("sync %s: %w", tc.dst, err)
	}
	return nil
}

func copyRegular(from, to string, perm fs.FileMode) (n int64, err error) {
	in, err := os.Open(from)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if n, err = io.Copy(out, in); err != nil {
		return n, fmt.Errorf("copy %s: %w", from, err)
	}
	// OpenFile is subject to umask
	if err = out.Chmod(perm); err != nil {
		return n, err
	}
	return n, out.Sync()
}
