// Package revision resolves the latest known revision of a node, from the
// remote hosting authority and from the node's local working tree.
//
// Revisions are compared byte-for-byte; nothing here orders them.
package revision

import (
	"context"

	"github.com/nammalakes/nodeup/pkg/model"
)

// Remote returns the tip revision of the configured branch.
type Remote interface {
	LatestRevision(ctx context.Context) (model.RevisionID, error)
}

// WorkingTree reads the revision checked out at a path.
type WorkingTree interface {
	CurrentRevision(ctx context.Context, path string) (model.RevisionID, error)
}

// Source combines a remote and a working-tree reader.
type Source struct {
	remote Remote
	local  WorkingTree
}

// NewSource creates a Source.
func NewSource(remote Remote, local WorkingTree) *Source {
	return &Source{remote: remote, local: local}
}

// LatestRemoteRevision fails with ErrRemoteUnavailable when the remote
// cannot be asked.
func (s *Source) LatestRemoteRevision(ctx context.Context) (model.RevisionID, error) {
	return s.remote.LatestRevision(ctx)
}

// LocalRevision fails with ErrNotAWorkingTree when path is not a checkout.
func (s *Source) LocalRevision(ctx context.Context, path string) (model.RevisionID, error) {
	return s.local.CurrentRevision(ctx, path)
}
