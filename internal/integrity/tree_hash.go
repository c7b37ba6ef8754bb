// Package integrity fingerprints directory trees so a backup can be proven
// to be a complete copy of the working tree it came from.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/nammalakes/nodeup/pkg/model"
)

// ComputeTreeHash fingerprints everything below root. Each entry becomes a
// record "kind:path:mode=NNNN:digest"; records are sorted bytewise, joined
// with newlines and hashed. Timestamps do not contribute.
func ComputeTreeHash(ctx context.Context, root string) (model.HashValue, error) {
	var records []string
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rec, err := record(root, path, d)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	}
	if err := filepath.WalkDir(root, walk); err != nil {
		return "", fmt.Errorf("walk tree: %w", err)
	}
	slices.Sort(records)

	sum := sha256.New()
	for _, r := range records {
		io.WriteString(sum, r)
		sum.Write([]byte{'\n'})
	}
	return model.HashValue(hex.EncodeToString(sum.Sum(nil))), nil
}

func record(root, path string, d fs.DirEntry) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	info, err := d.Info()
	if err != nil {
		return "", err
	}
	kind, digest, err := digestEntry(path, info)
	if err != nil {
		return "", fmt.Errorf("hash entry %s: %w", rel, err)
	}
	return fmt.Sprintf("%s:%s:mode=%04o:%s", kind, filepath.ToSlash(rel), info.Mode().Perm(), digest), nil
}

// digestEntry hashes what identifies an entry: file contents, a link's
// target, or a directory's own name.
func digestEntry(path string, info fs.FileInfo) (kind, digest string, err error) {
	h := sha256.New()
	mode := info.Mode()
	switch {
	case mode.IsDir():
		kind = "dir"
		io.WriteString(h, info.Name())
	case mode&fs.ModeSymlink != 0:
		kind = "symlink"
		target, err := os.Readlink(path)
		if err != nil {
			return "", "", err
		}
		io.WriteString(h, target)
	case mode.IsRegular():
		kind = "file"
		f, err := os.Open(path)
		if err != nil {
			return "", "", err
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return "", "", err
		}
	default:
		kind = "other"
	}
	return kind, hex.EncodeToString(h.Sum(nil)), nil
}
