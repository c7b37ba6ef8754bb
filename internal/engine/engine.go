// Package engine copies working trees for backup and restore.
package engine

import (
	"context"

	"github.com/nammalakes/nodeup/pkg/model"
)

// CloneResult describes what a clone copied.
type CloneResult struct {
	Files int
	Dirs  int
	Bytes int64
}

// Engine defines the copy engine interface.
type Engine interface {
	// Name returns the engine type identifier.
	Name() model.EngineType

	// Clone copies the tree at src to dst, which must not exist yet.
	// It stops between entries once ctx is done.
	Clone(ctx context.Context, src, dst string) (*CloneResult, error)
}
