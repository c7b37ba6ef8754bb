// Package doctor inspects registered nodes for states an update leaves
// behind when it is interrupted or misconfigured.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nammalakes/nodeup/internal/integrity"
	"github.com/nammalakes/nodeup/internal/lock"
	"github.com/nammalakes/nodeup/pkg/fsutil"
	"github.com/nammalakes/nodeup/pkg/model"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	NodeID      string `json:"node_id,omitempty"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Nodes    int       `json:"nodes"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == "error" || f.Severity == "critical" {
		r.Healthy = false
	}
}

// NodeLister lists registered nodes.
type NodeLister interface {
	List() ([]model.NodeRepository, error)
}

// WorkingTree reads the revision checked out at a path.
type WorkingTree interface {
	CurrentRevision(ctx context.Context, path string) (model.RevisionID, error)
}

// Doctor performs node health checks.
type Doctor struct {
	nodes     NodeLister
	trees     WorkingTree
	locks     *lock.Manager
	auditPath string
}

// NewDoctor creates a new doctor.
func NewDoctor(nodes NodeLister, trees WorkingTree, locks *lock.Manager, auditPath string) *Doctor {
	return &Doctor{nodes: nodes, trees: trees, locks: locks, auditPath: auditPath}
}

// Check runs all diagnostic checks. With strict set, every backup is read
// in full to catch unreadable files.
func (d *Doctor) Check(ctx context.Context, strict bool) (*Result, error) {
	result := &Result{Healthy: true}

	nodes, err := d.nodes.List()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	result.Nodes = len(nodes)

	dirs := make(map[string]bool)
	for _, n := range nodes {
		d.checkWorkingTree(ctx, n, result)
		d.checkBackup(ctx, n, strict, result)
		d.checkLock(n, result)
		d.checkLeftovers(n, result)
		dirs[filepath.Dir(n.WorkingPath)] = true
	}
	for dir := range dirs {
		d.checkOrphanTmp(dir, result)
	}
	d.checkAuditLog(result)

	return result, nil
}

func (d *Doctor) checkWorkingTree(ctx context.Context, n model.NodeRepository, result *Result) {
	ok, err := fsutil.DirExists(n.WorkingPath)
	if err != nil || !ok {
		sev := "error"
		desc := fmt.Sprintf("working tree of '%s' is missing", n.ID)
		if backupOK, _ := fsutil.DirExists(n.BackupPath); backupOK {
			sev = "critical"
			desc += "; a backup exists and can be restored"
		}
		result.add(Finding{Category: "node", NodeID: n.ID, Description: desc, Severity: sev, Path: n.WorkingPath})
		return
	}
	if d.trees == nil {
		return
	}
	if _, err := d.trees.CurrentRevision(ctx, n.WorkingPath); err != nil {
		result.add(Finding{
			Category:    "node",
			NodeID:      n.ID,
			Description: fmt.Sprintf("'%s' is not a usable working tree: %v", n.ID, err),
			Severity:    "error",
			Path:        n.WorkingPath,
		})
	}
}

func (d *Doctor) checkBackup(ctx context.Context, n model.NodeRepository, strict bool, result *Result) {
	info, err := os.Stat(n.BackupPath)
	if err != nil {
		return
	}
	if !info.IsDir() {
		result.add(Finding{
			Category:    "backup",
			NodeID:      n.ID,
			Description: fmt.Sprintf("backup path of '%s' is not a directory", n.ID),
			Severity:    "error",
			Path:        n.BackupPath,
		})
		return
	}
	result.add(Finding{
		Category:    "backup",
		NodeID:      n.ID,
		Description: fmt.Sprintf("backup of '%s' kept from a failed update (%s)", n.ID, info.ModTime().Format(time.RFC3339)),
		Severity:    "info",
		Path:        n.BackupPath,
	})
	if strict {
		if _, err := integrity.ComputeTreeHash(ctx, n.BackupPath); err != nil {
			result.add(Finding{
				Category:    "backup",
				NodeID:      n.ID,
				Description: fmt.Sprintf("backup of '%s' is unreadable: %v", n.ID, err),
				Severity:    "error",
				Path:        n.BackupPath,
			})
		}
	}
}

func (d *Doctor) checkLock(n model.NodeRepository, result *Result) {
	if d.locks == nil {
		return
	}
	state, rec, err := d.locks.Status(n)
	switch {
	case err != nil:
		result.add(Finding{
			Category:    "lock",
			NodeID:      n.ID,
			Description: fmt.Sprintf("unreadable lock on '%s': %v", n.ID, err),
			Severity:    "warning",
			Path:        n.LockPath(),
		})
	case state == model.LockStateExpired:
		result.add(Finding{
			Category:    "lock",
			NodeID:      n.ID,
			Description: fmt.Sprintf("expired lock on '%s' held by pid %d (since %s)", n.ID, rec.PID, rec.ExpiresAt.Format(time.RFC3339)),
			Severity:    "info",
			Path:        n.LockPath(),
		})
	case state == model.LockStateHeld:
		result.add(Finding{
			Category:    "lock",
			NodeID:      n.ID,
			Description: fmt.Sprintf("update in progress on '%s' (pid %d, %s)", n.ID, rec.PID, rec.Purpose),
			Severity:    "info",
			Path:        n.LockPath(),
		})
	}
}

// checkLeftovers reports staging directories next to the node that an
// interrupted backup or restore left behind.
func (d *Doctor) checkLeftovers(n model.NodeRepository, result *Result) {
	dir := filepath.Dir(n.WorkingPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	base := filepath.Base(n.WorkingPath)
	backupBase := filepath.Base(n.BackupPath)
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasPrefix(name, "."+base+".old-"):
			result.add(Finding{
				Category:    "restore",
				NodeID:      n.ID,
				Description: fmt.Sprintf("tree replaced by an interrupted restore of '%s': %s", n.ID, name),
				Severity:    "warning",
				Path:        path,
			})
		case strings.HasPrefix(name, "."+base+".restore-"), strings.HasPrefix(name, "."+backupBase+".staging-"):
			result.add(Finding{
				Category:    "staging",
				NodeID:      n.ID,
				Description: fmt.Sprintf("orphan staging directory: %s", name),
				Severity:    "info",
				Path:        path,
			})
		}
	}
}

// checkOrphanTmp reports temp files left by an interrupted lease write.
func (d *Doctor) checkOrphanTmp(dir string, result *Result) {
	matches, err := filepath.Glob(filepath.Join(dir, fsutil.TempPrefix+"*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		result.add(Finding{
			Category:    "tmp",
			Description: fmt.Sprintf("orphan temp file: %s", filepath.Base(path)),
			Severity:    "info",
			Path:        path,
		})
	}
}

func (d *Doctor) checkAuditLog(result *Result) {
	if d.auditPath == "" {
		return
	}
	dir := filepath.Dir(d.auditPath)
	if ok, _ := fsutil.DirExists(dir); !ok {
		result.add(Finding{
			Category:    "audit",
			Description: fmt.Sprintf("audit log directory %s does not exist", dir),
			Severity:    "warning",
			Path:        d.auditPath,
		})
		return
	}
	f, err := os.OpenFile(d.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		result.add(Finding{
			Category:    "audit",
			Description: fmt.Sprintf("audit log is not writable: %v", err),
			Severity:    "error",
			Path:        d.auditPath,
		})
		return
	}
	f.Close()
}
