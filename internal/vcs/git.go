// Package vcs runs the revision-control operations an update needs
// against a node's working tree, using the git command line.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/model"
)

// PullResult is the outcome of a pull that ran to completion.
type PullResult struct {
	OK         bool
	Diagnostic string
}

// Git runs git against working trees. The zero value uses "git" from PATH
// and pulls from "origin".
type Git struct {
	Binary string
	Remote string
}

func (g *Git) binary() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

func (g *Git) remote() string {
	if g.Remote == "" {
		return "origin"
	}
	return g.Remote
}

// Pull fetches and merges branch into the working tree at path.
//
// A pull that git itself rejects (conflicts, divergent history, network
// failure) returns OK=false with git's output as the diagnostic. An error
// is returned only when git could not be run or ctx ended first.
func (g *Git) Pull(ctx context.Context, path, branch string) (PullResult, error) {
	out, err := g.run(ctx, path, "pull", g.remote(), branch)
	if err == nil {
		return PullResult{OK: true, Diagnostic: out}, nil
	}
	if ctx.Err() != nil {
		return PullResult{}, fmt.Errorf("git pull: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return PullResult{OK: false, Diagnostic: out}, nil
	}
	return PullResult{}, fmt.Errorf("git pull: %w", err)
}

// CurrentRevision returns the commit checked out at path. A path that does
// not exist or is not a git working tree fails with ErrNotAWorkingTree.
func (g *Git) CurrentRevision(ctx context.Context, path string) (model.RevisionID, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", errclass.ErrNotAWorkingTree.WithMessagef("%s does not exist", path)
	}

	if err := g.checkTopLevel(ctx, path); err != nil {
		return "", err
	}
	out, err := g.revParse(ctx, path, "HEAD")
	if err != nil {
		return "", err
	}
	return model.RevisionID(out), nil
}

// checkTopLevel fails unless path is the root of its working tree. git
// accepts any directory nested in a checkout, and pulling there would
// change files outside the node.
func (g *Git) checkTopLevel(ctx context.Context, path string) error {
	top, err := g.revParse(ctx, path, "--show-toplevel")
	if err != nil {
		return err
	}
	want, err := filepath.EvalSymlinks(path)
	if err != nil {
		return errclass.ErrNotAWorkingTree.WithMessagef("resolve %s: %v", path, err)
	}
	got, err := filepath.EvalSymlinks(filepath.FromSlash(top))
	if err != nil {
		got = filepath.Clean(filepath.FromSlash(top))
	}
	if got != want {
		return errclass.ErrNotAWorkingTree.WithMessagef("%s is inside the working tree at %s, not a working tree of its own", path, top)
	}
	return nil
}

func (g *Git) revParse(ctx context.Context, path string, args ...string) (string, error) {
	out, err := g.run(ctx, path, append([]string{"rev-parse"}, args...)...)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("git rev-parse: %w", ctx.Err())
	}
	if strings.Contains(out, "not a git repository") || strings.Contains(out, "this operation must be run in a work tree") {
		return "", errclass.ErrNotAWorkingTree.WithMessagef("%s is not a git working tree", path)
	}
	return "", fmt.Errorf("git rev-parse: %w: %s", err, out)
}

// run executes git in dir and returns its trimmed combined output.
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binary(), args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}
