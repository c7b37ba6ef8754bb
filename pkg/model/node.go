package model

import "time"

// DefaultBackupSuffix is appended to a node's working path to derive its backup path.
const DefaultBackupSuffix = "_backup"

// LockSuffix is appended to a node's working path to derive its lease file.
const LockSuffix = ".lock"

// NodeRepository identifies one managed checkout.
type NodeRepository struct {
	ID          string `json:"id" yaml:"id"`
	WorkingPath string `json:"working_path" yaml:"path"`
	BackupPath  string `json:"backup_path" yaml:"-"`
}

// NewNodeRepository builds a NodeRepository whose backup path is derived
// from the working path and suffix.
func NewNodeRepository(id, workingPath, backupSuffix string) NodeRepository {
	if backupSuffix == "" {
		backupSuffix = DefaultBackupSuffix
	}
	return NodeRepository{
		ID:          id,
		WorkingPath: workingPath,
		BackupPath:  workingPath + backupSuffix,
	}
}

// LockPath returns the location of the node's lease file.
func (n NodeRepository) LockPath() string {
	return n.WorkingPath + LockSuffix
}

// Backup is the single live snapshot of a node's working tree.
type Backup struct {
	SourceID  string    `json:"source_id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	TreeHash  HashValue `json:"tree_hash"`
	Files     int       `json:"files"`
	Bytes     int64     `json:"bytes"`
}
