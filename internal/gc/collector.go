// Package gc removes what interrupted updates leave next to node checkouts:
// staging directories, replaced trees, expired leases and temp files.
package gc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nammalakes/nodeup/internal/audit"
	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/fsutil"
	"github.com/nammalakes/nodeup/pkg/logging"
	"github.com/nammalakes/nodeup/pkg/model"
)

// DefaultMinAge keeps temp files that may belong to a write in progress.
const DefaultMinAge = time.Minute

// Kind classifies a collectable path.
type Kind string

const (
	KindBackupStaging  Kind = "backup_staging"
	KindRestoreStaging Kind = "restore_staging"
	KindReplacedTree   Kind = "replaced_tree"
	KindExpiredLock    Kind = "expired_lock"
	KindTempFile       Kind = "temp_file"
)

// Item is one path the collector would remove.
type Item struct {
	NodeID string `json:"node_id,omitempty"`
	Kind   Kind   `json:"kind"`
	Path   string `json:"path"`
}

// Plan lists what a run would remove. Busy nodes are left alone.
type Plan struct {
	PlanID    string    `json:"plan_id"`
	CreatedAt time.Time `json:"created_at"`
	Items     []Item    `json:"items"`
	Busy      []string  `json:"busy,omitempty"`
}

// Report is the result of Run.
type Report struct {
	Removed []Item   `json:"removed"`
	Skipped []string `json:"skipped,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// NodeLister lists registered nodes.
type NodeLister interface {
	List() ([]model.NodeRepository, error)
}

// Locker is the node lease used to keep the collector away from running updates.
type Locker interface {
	Acquire(repo model.NodeRepository, purpose string) (*model.LockRecord, error)
	Release(repo model.NodeRepository, holderNonce string) error
	Status(repo model.NodeRepository) (model.LockState, *model.LockRecord, error)
}

// Collector handles garbage collection.
type Collector struct {
	nodes  NodeLister
	locks  Locker
	audit  audit.Log
	minAge time.Duration
	now    func() time.Time
	log    *logging.Logger
}

// NewCollector creates a new collector. A nil log discards audit messages.
func NewCollector(nodes NodeLister, locks Locker, log audit.Log) *Collector {
	if log == nil {
		log = audit.Discard
	}
	return &Collector{
		nodes:  nodes,
		locks:  locks,
		audit:  log,
		minAge: DefaultMinAge,
		now:    time.Now,
		log:    logging.WithFields(map[string]any{"component": "gc"}),
	}
}

// Plan finds collectable paths without removing anything.
func (c *Collector) Plan() (*Plan, error) {
	nodes, err := c.nodes.List()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	plan := &Plan{PlanID: uuid.NewString(), CreatedAt: c.now().UTC(), Items: []Item{}}
	dirs := make(map[string]bool)
	for _, n := range nodes {
		dirs[filepath.Dir(n.WorkingPath)] = true

		state, _, err := c.locks.Status(n)
		if err == nil && state == model.LockStateHeld {
			plan.Busy = append(plan.Busy, n.ID)
			continue
		}
		if state == model.LockStateExpired {
			plan.Items = append(plan.Items, Item{NodeID: n.ID, Kind: KindExpiredLock, Path: n.LockPath()})
		}
		plan.Items = append(plan.Items, c.nodeLeftovers(n)...)
	}
	for dir := range dirs {
		plan.Items = append(plan.Items, c.tempFiles(dir)...)
	}
	return plan, nil
}

func (c *Collector) nodeLeftovers(n model.NodeRepository) []Item {
	var items []Item
	add := func(kind Kind, pattern string) {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			items = append(items, Item{NodeID: n.ID, Kind: kind, Path: m})
		}
	}
	add(KindBackupStaging, fsutil.SiblingPath(n.BackupPath, "staging", "*"))
	add(KindRestoreStaging, fsutil.SiblingPath(n.WorkingPath, "restore", "*"))

	// Without a live tree the replaced one is all that is left of the
	// checkout; doctor reports it and the operator decides.
	if ok, _ := fsutil.DirExists(n.WorkingPath); ok {
		add(KindReplacedTree, fsutil.SiblingPath(n.WorkingPath, "old", "*"))
	}
	return items
}

func (c *Collector) tempFiles(dir string) []Item {
	matches, _ := filepath.Glob(filepath.Join(dir, fsutil.TempPrefix+"*"))
	var items []Item
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || c.now().Sub(info.ModTime()) < c.minAge {
			continue
		}
		items = append(items, Item{Kind: KindTempFile, Path: m})
	}
	return items
}

// Run removes the items of plan. Each node is leased while its items are
// removed; a node that became busy since the plan was made is skipped.
// Releasing the lease also clears an expired lock file.
func (c *Collector) Run(plan *Plan) (*Report, error) {
	nodes, err := c.nodes.List()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	byID := make(map[string]model.NodeRepository, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	report := &Report{Removed: []Item{}}
	grouped := make(map[string][]Item)
	var order []string
	for _, it := range plan.Items {
		if it.NodeID == "" {
			c.remove(it, report)
			continue
		}
		if _, ok := grouped[it.NodeID]; !ok {
			order = append(order, it.NodeID)
		}
		grouped[it.NodeID] = append(grouped[it.NodeID], it)
	}

	for _, id := range order {
		repo, ok := byID[id]
		if !ok {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		rec, err := c.locks.Acquire(repo, "gc")
		if err != nil {
			if !errors.Is(err, errclass.ErrNodeBusy) {
				report.Errors = append(report.Errors, err.Error())
			}
			report.Skipped = append(report.Skipped, id)
			continue
		}
		for _, it := range grouped[id] {
			if it.Kind == KindExpiredLock {
				// taken over by Acquire, removed by Release
				report.Removed = append(report.Removed, it)
				continue
			}
			c.remove(it, report)
		}
		if err := c.locks.Release(repo, rec.HolderNonce); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	if len(report.Removed) > 0 {
		c.audit.Append(fmt.Sprintf("GC removed %d leftover paths.", len(report.Removed)))
	}
	c.log.Info("gc run", map[string]any{
		"plan_id": plan.PlanID,
		"removed": len(report.Removed),
		"skipped": len(report.Skipped),
		"errors":  len(report.Errors),
	})
	return report, nil
}

func (c *Collector) remove(it Item, report *Report) {
	if !strings.HasPrefix(filepath.Base(it.Path), ".") {
		report.Errors = append(report.Errors, fmt.Sprintf("refusing to remove %s", it.Path))
		return
	}
	if err := fsutil.RemoveTree(it.Path); err != nil {
		report.Errors = append(report.Errors, err.Error())
		return
	}
	report.Removed = append(report.Removed, it)
}
