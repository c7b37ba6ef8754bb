package gc_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nammalakes/nodeup/internal/gc"
	"github.com/nammalakes/nodeup/internal/lock"
	"github.com/nammalakes/nodeup/pkg/model"
)

type nodeList []model.NodeRepository

func (l nodeList) List() ([]model.NodeRepository, error) { return l, nil }

type memLog struct {
	mu   sync.Mutex
	msgs []string
}

func (m *memLog) Append(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func setupNode(t *testing.T, base, id string) model.NodeRepository {
	t.Helper()
	repo := model.NewNodeRepository(id, filepath.Join(base, id), "")
	require.NoError(t, os.MkdirAll(repo.WorkingPath, 0755))
	return repo
}

func mkdir(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(path, "sub"), 0755))
	return path
}

func oldFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
	return path
}

func writeExpiredLock(t *testing.T, repo model.NodeRepository) {
	t.Helper()
	data, err := json.Marshal(model.LockRecord{NodeID: repo.ID, HolderNonce: "dead", PID: 1, ExpiresAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(repo.LockPath(), data, 0644))
}

func paths(items []gc.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Path)
	}
	return out
}

func newLocks() *lock.Manager {
	return lock.NewManager(model.LockPolicy{LeaseTTL: time.Minute})
}

func TestCollector_Plan(t *testing.T) {
	base := t.TempDir()
	n1 := setupNode(t, base, "n1")

	staging := mkdir(t, filepath.Join(base, ".n1_backup.staging-1a2b3c4d"))
	restore := mkdir(t, filepath.Join(base, ".n1.restore-1a2b3c4d"))
	replaced := mkdir(t, filepath.Join(base, ".n1.old-1a2b3c4d"))
	tmp := oldFile(t, filepath.Join(base, ".nodeup-tmp-42"))
	require.NoError(t, os.WriteFile(filepath.Join(base, ".nodeup-tmp-fresh"), nil, 0644))
	writeExpiredLock(t, n1)

	plan, err := gc.NewCollector(nodeList{n1}, newLocks(), nil).Plan()
	require.NoError(t, err)
	assert.NotEmpty(t, plan.PlanID)
	assert.Empty(t, plan.Busy)
	assert.ElementsMatch(t, []string{n1.LockPath(), staging, restore, replaced, tmp}, paths(plan.Items))

	// planning removes nothing
	_, err = os.Stat(staging)
	assert.NoError(t, err)
}

func TestCollector_Plan_KeepsReplacedTreeWithoutLiveTree(t *testing.T) {
	base := t.TempDir()
	n1 := model.NewNodeRepository("n1", filepath.Join(base, "n1"), "")
	mkdir(t, filepath.Join(base, ".n1.old-1a2b3c4d"))

	plan, err := gc.NewCollector(nodeList{n1}, newLocks(), nil).Plan()
	require.NoError(t, err)
	assert.Empty(t, plan.Items)
}

func TestCollector_Plan_SkipsBusyNodes(t *testing.T) {
	base := t.TempDir()
	n1 := setupNode(t, base, "n1")
	mkdir(t, filepath.Join(base, ".n1_backup.staging-1a2b3c4d"))

	locks := newLocks()
	_, err := locks.Acquire(n1, "update")
	require.NoError(t, err)

	plan, err := gc.NewCollector(nodeList{n1}, locks, nil).Plan()
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, plan.Busy)
	assert.Empty(t, plan.Items)
}

func TestCollector_Run(t *testing.T) {
	base := t.TempDir()
	n1 := setupNode(t, base, "n1")
	n2 := setupNode(t, base, "n2")
	staging := mkdir(t, filepath.Join(base, ".n1_backup.staging-1a2b3c4d"))
	restore := mkdir(t, filepath.Join(base, ".n2.restore-5e6f7a8b"))
	tmp := oldFile(t, filepath.Join(base, ".nodeup-tmp-42"))
	writeExpiredLock(t, n2)

	log := &memLog{}
	c := gc.NewCollector(nodeList{n1, n2}, newLocks(), log)
	plan, err := c.Plan()
	require.NoError(t, err)

	report, err := c.Run(plan)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Skipped)
	assert.Len(t, report.Removed, 4)

	for _, p := range []string{staging, restore, tmp, n1.LockPath(), n2.LockPath()} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "%s should be gone", p)
	}
	for _, p := range []string{n1.WorkingPath, n2.WorkingPath} {
		_, err := os.Stat(p)
		assert.NoError(t, err, "node trees are never collected")
	}
	assert.Equal(t, []string{"GC removed 4 leftover paths."}, log.msgs)
}

func TestCollector_Run_SkipsNodeThatBecameBusy(t *testing.T) {
	base := t.TempDir()
	n1 := setupNode(t, base, "n1")
	staging := mkdir(t, filepath.Join(base, ".n1_backup.staging-1a2b3c4d"))

	locks := newLocks()
	log := &memLog{}
	c := gc.NewCollector(nodeList{n1}, locks, log)
	plan, err := c.Plan()
	require.NoError(t, err)
	require.Len(t, plan.Items, 1)

	_, err = lock.NewManager(model.LockPolicy{LeaseTTL: time.Hour}).Acquire(n1, "update")
	require.NoError(t, err)

	report, err := c.Run(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, report.Skipped)
	assert.Empty(t, report.Removed)
	assert.Empty(t, log.msgs)
	_, err = os.Stat(staging)
	assert.NoError(t, err)
}

func TestCollector_Run_RefusesVisiblePaths(t *testing.T) {
	base := t.TempDir()
	visible := mkdir(t, filepath.Join(base, "n1"))

	c := gc.NewCollector(nodeList{}, newLocks(), nil)
	report, err := c.Run(&gc.Plan{Items: []gc.Item{{Kind: gc.KindTempFile, Path: visible}}})
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "refusing to remove")
	_, err = os.Stat(visible)
	assert.NoError(t, err)
}
