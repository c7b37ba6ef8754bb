// Package backup keeps the single-slot snapshot of a node's working tree
// that makes a failed update reversible.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nammalakes/nodeup/internal/engine"
	"github.com/nammalakes/nodeup/internal/integrity"
	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/fsutil"
	"github.com/nammalakes/nodeup/pkg/logging"
	"github.com/nammalakes/nodeup/pkg/model"
)

// Manager creates, restores and discards node backups.
//
// At most one backup exists per node, at NodeRepository.BackupPath. A new
// snapshot replaces the previous one; there is no history.
type Manager struct {
	engine engine.Engine
	log    *logging.Logger
}

// NewManager creates a backup manager that copies with eng.
func NewManager(eng engine.Engine) *Manager {
	if eng == nil {
		eng = engine.NewCopyEngine()
	}
	return &Manager{
		engine: eng,
		log:    logging.WithFields(map[string]any{"component": "backup"}),
	}
}

// Snapshot replaces the node's backup with a verified copy of its working tree.
//
// The copy is written to a hidden staging directory next to the backup path,
// hashed against the source, and only then renamed into place. If any step
// fails the staging directory is removed and ErrBackupFailed is returned, so
// BackupPath never holds a partial copy.
func (m *Manager) Snapshot(ctx context.Context, repo model.NodeRepository) (*model.Backup, error) {
	ok, err := fsutil.DirExists(repo.WorkingPath)
	if err != nil || !ok {
		return nil, errclass.ErrBackupFailed.WithMessagef("working tree %s is not a directory", repo.WorkingPath)
	}

	if err := fsutil.RemoveTree(repo.BackupPath); err != nil {
		return nil, errclass.ErrBackupFailed.WithMessagef("remove previous backup: %v", err)
	}
	m.removeStaging(repo.BackupPath, "staging")

	staging := fsutil.SiblingPath(repo.BackupPath, "staging", nonce())
	res, err := m.engine.Clone(ctx, repo.WorkingPath, staging)
	if err != nil {
		fsutil.RemoveTree(staging)
		return nil, errclass.ErrBackupFailed.WithMessagef("copy %s: %v", repo.ID, err)
	}

	srcHash, err := integrity.ComputeTreeHash(ctx, repo.WorkingPath)
	if err != nil {
		fsutil.RemoveTree(staging)
		return nil, errclass.ErrBackupFailed.WithMessagef("hash working tree: %v", err)
	}
	copyHash, err := integrity.ComputeTreeHash(ctx, staging)
	if err != nil {
		fsutil.RemoveTree(staging)
		return nil, errclass.ErrBackupFailed.WithMessagef("hash backup: %v", err)
	}
	if srcHash != copyHash {
		fsutil.RemoveTree(staging)
		return nil, errclass.ErrBackupFailed.WithMessage("backup does not match working tree (modified during copy?)")
	}

	if err := fsutil.RenameAndSync(staging, repo.BackupPath); err != nil {
		fsutil.RemoveTree(staging)
		return nil, errclass.ErrBackupFailed.WithMessagef("publish backup: %v", err)
	}

	b := &model.Backup{
		SourceID:  repo.ID,
		Path:      repo.BackupPath,
		CreatedAt: time.Now().UTC(),
		TreeHash:  copyHash,
		Files:     res.Files,
		Bytes:     res.Bytes,
	}
	m.log.Debug("backup created", map[string]any{
		"node": repo.ID, "files": b.Files, "bytes": b.Bytes, "hash": string(b.TreeHash),
	})
	return b, nil
}

// Restore replaces the working tree with the node's backup.
//
// The backup is first copied to a staging directory; the live tree is then
// renamed aside and the staging copy renamed into its place. The backup
// itself is left in place. If no backup exists the live tree is not touched
// and the error matches both ErrRestoreFailed and ErrNoBackupFound.
//
// Restore is not interruptible: ctx values are kept but its cancellation is
// ignored, so a shutdown never leaves a half-restored tree.
func (m *Manager) Restore(ctx context.Context, repo model.NodeRepository) error {
	ctx = context.WithoutCancel(ctx)

	ok, err := fsutil.DirExists(repo.BackupPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errclass.ErrRestoreFailed.WithMessagef("stat backup of %s", repo.ID), err)
	}
	if !ok {
		return fmt.Errorf("%w: %w",
			errclass.ErrRestoreFailed.WithMessagef("node %s", repo.ID),
			errclass.ErrNoBackupFound.WithMessagef("no backup at %s", repo.BackupPath))
	}

	m.removeStaging(repo.WorkingPath, "restore")
	id := nonce()
	staging := fsutil.SiblingPath(repo.WorkingPath, "restore", id)
	if _, err := m.engine.Clone(ctx, repo.BackupPath, staging); err != nil {
		fsutil.RemoveTree(staging)
		return errclass.ErrRestoreFailed.WithMessagef("copy backup of %s: %v", repo.ID, err)
	}

	old := fsutil.SiblingPath(repo.WorkingPath, "old", id)
	hadLive, err := fsutil.DirExists(repo.WorkingPath)
	if err != nil {
		fsutil.RemoveTree(staging)
		return errclass.ErrRestoreFailed.WithMessagef("stat working tree of %s: %v", repo.ID, err)
	}
	if !hadLive {
		// a failed pull may have left a file, or nothing, at the working path
		if err := fsutil.RemoveTree(repo.WorkingPath); err != nil {
			fsutil.RemoveTree(staging)
			return errclass.ErrRestoreFailed.WithMessagef("clear working path of %s: %v", repo.ID, err)
		}
	} else if err := fsutil.RenameAndSync(repo.WorkingPath, old); err != nil {
		fsutil.RemoveTree(staging)
		return errclass.ErrRestoreFailed.WithMessagef("move aside working tree of %s: %v", repo.ID, err)
	}

	if err := fsutil.RenameAndSync(staging, repo.WorkingPath); err != nil {
		if hadLive {
			if rbErr := fsutil.RenameAndSync(old, repo.WorkingPath); rbErr != nil {
				m.log.ErrorErr("could not put failed tree back", rbErr, map[string]any{"node": repo.ID, "path": old})
			}
		}
		return errclass.ErrRestoreFailed.WithMessagef("swap in restored tree of %s: %v", repo.ID, err)
	}

	if hadLive {
		if err := fsutil.RemoveTree(old); err != nil {
			m.log.Warn("could not remove replaced tree", map[string]any{"node": repo.ID, "path": old, "error": err.Error()})
		}
	}
	return nil
}

// Discard deletes the node's backup. Discarding a missing backup is a no-op.
func (m *Manager) Discard(repo model.NodeRepository) error {
	if err := fsutil.RemoveTree(repo.BackupPath); err != nil {
		return errclass.ErrBackupFailed.WithMessagef("discard backup of %s: %v", repo.ID, err)
	}
	return nil
}

// Exists reports whether the node currently has a backup.
func (m *Manager) Exists(repo model.NodeRepository) bool {
	ok, err := fsutil.DirExists(repo.BackupPath)
	return err == nil && ok
}

// removeStaging deletes staging directories left behind by an interrupted run.
func (m *Manager) removeStaging(path, tag string) {
	pattern := fsutil.SiblingPath(path, tag, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, p := range matches {
		if err := os.RemoveAll(p); err != nil {
			m.log.Warn("could not remove stale staging dir", map[string]any{"path": p, "error": err.Error()})
		}
	}
}

func nonce() string {
	return uuid.NewString()[:8]
}
