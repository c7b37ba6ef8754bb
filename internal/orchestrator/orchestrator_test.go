package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nammalakes/nodeup/internal/backup"
	"github.com/nammalakes/nodeup/internal/executor"
	"github.com/nammalakes/nodeup/internal/integrity"
	"github.com/nammalakes/nodeup/internal/lock"
	"github.com/nammalakes/nodeup/internal/orchestrator"
	"github.com/nammalakes/nodeup/internal/vcs"
	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/model"
)

// pathSource serves local revisions keyed by node directory name.
type pathSource struct {
	remote model.RevisionID
	local  map[string]model.RevisionID
}

func (s *pathSource) LatestRemoteRevision(context.Context) (model.RevisionID, error) {
	return s.remote, nil
}

func (s *pathSource) LocalRevision(_ context.Context, path string) (model.RevisionID, error) {
	if _, err := os.Stat(path); err != nil {
		return "", errclass.ErrNotAWorkingTree.WithMessage(path)
	}
	rev, ok := s.local[filepath.Base(path)]
	if !ok {
		return "", errclass.ErrNotAWorkingTree.WithMessage(path)
	}
	return rev, nil
}

// scriptedPuller fails for nodes listed in fail and updates the rest. A
// node listed in block waits on its channel before pulling.
type scriptedPuller struct {
	fail    map[string]bool
	block   map[string]chan struct{}
	started chan string

	mu    sync.Mutex
	pulls map[string]int
}

func (p *scriptedPuller) Pull(ctx context.Context, path, branch string) (vcs.PullResult, error) {
	id := filepath.Base(path)
	p.mu.Lock()
	if p.pulls == nil {
		p.pulls = make(map[string]int)
	}
	p.pulls[id]++
	p.mu.Unlock()

	if p.started != nil {
		p.started <- id
	}
	if ch, ok := p.block[id]; ok {
		<-ch
	}
	if p.fail[id] {
		os.WriteFile(filepath.Join(path, "app.py"), []byte("<<<<<<<"), 0644)
		return vcs.PullResult{OK: false, Diagnostic: "CONFLICT"}, nil
	}
	os.WriteFile(filepath.Join(path, "app.py"), []byte("v2"), 0644)
	return vcs.PullResult{OK: true}, nil
}

func (p *scriptedPuller) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pulls[id]
}

func setupNodes(t *testing.T, ids ...string) string {
	t.Helper()
	base := t.TempDir()
	for _, id := range ids {
		dir := filepath.Join(base, id)
		require.NoError(t, os.Mkdir(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("v1"), 0644))
	}
	return base
}

func newOrchestrator(t *testing.T, base string, src *pathSource, puller *scriptedPuller) *orchestrator.Orchestrator {
	t.Helper()
	reg, err := orchestrator.NewRegistry(base, nil, "")
	require.NoError(t, err)
	exec := executor.New(src, backup.NewManager(nil), puller, executor.Options{})
	return orchestrator.New(reg, exec, lock.NewManager(model.LockPolicy{}), orchestrator.Options{Workers: 4})
}

func readApp(t *testing.T, base, id string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(base, id, "app.py"))
	require.NoError(t, err)
	return string(data)
}

func TestUpdateOne_UnknownNode(t *testing.T) {
	base := setupNodes(t, "n1")
	o := newOrchestrator(t, base, &pathSource{remote: "def456"}, &scriptedPuller{})

	res := o.UpdateOne(context.Background(), "n9")
	assert.Equal(t, model.OutcomeNodeNotFound, res.Outcome)
	assert.Equal(t, "n9", res.NodeID)
}

func TestUpdateOne_ReleasesLock(t *testing.T) {
	base := setupNodes(t, "n1")
	o := newOrchestrator(t, base, &pathSource{remote: "def456", local: map[string]model.RevisionID{"n1": "abc123"}}, &scriptedPuller{})

	res := o.UpdateOne(context.Background(), "n1")
	require.Equal(t, model.OutcomeUpdated, res.Outcome)
	assert.NoFileExists(t, filepath.Join(base, "n1.lock"))
}

func TestUpdateOne_UpToDateLeavesNodesDirAsFound(t *testing.T) {
	base := setupNodes(t, "n1")
	puller := &scriptedPuller{}
	o := newOrchestrator(t, base, &pathSource{remote: "abc123", local: map[string]model.RevisionID{"n1": "abc123"}}, puller)

	before, err := integrity.ComputeTreeHash(context.Background(), base)
	require.NoError(t, err)

	res := o.UpdateOne(context.Background(), "n1")
	require.Equal(t, model.OutcomeUpToDate, res.Outcome)

	after, err := integrity.ComputeTreeHash(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, before, after, "only the lease file comes and goes")
	assert.NoFileExists(t, filepath.Join(base, "n1.lock"))
	assert.NoDirExists(t, filepath.Join(base, "n1_backup"))
	assert.Zero(t, puller.count("n1"))
}

func TestUpdateMany_ExampleScenario(t *testing.T) {
	base := setupNodes(t, "n1", "n2")
	src := &pathSource{remote: "def456", local: map[string]model.RevisionID{"n1": "def456", "n2": "abc123"}}
	puller := &scriptedPuller{fail: map[string]bool{"n2": true}}
	o := newOrchestrator(t, base, src, puller)

	n2Before, err := integrity.ComputeTreeHash(context.Background(), filepath.Join(base, "n2"))
	require.NoError(t, err)

	results := o.UpdateMany(context.Background(), []string{"n1", "n2"})
	require.Len(t, results, 2)

	assert.Equal(t, model.OutcomeUpToDate, results["n1"].Outcome)
	assert.Zero(t, puller.count("n1"))
	assert.NoDirExists(t, filepath.Join(base, "n1_backup"))

	assert.Equal(t, model.OutcomeFailed, results["n2"].Outcome)
	assert.Equal(t, model.DetailRolledBack, results["n2"].Detail)
	assert.DirExists(t, filepath.Join(base, "n2_backup"))
	n2After, err := integrity.ComputeTreeHash(context.Background(), filepath.Join(base, "n2"))
	require.NoError(t, err)
	assert.Equal(t, n2Before, n2After)
}

func TestUpdateMany_NodeIsolation(t *testing.T) {
	base := setupNodes(t, "a", "b")
	src := &pathSource{remote: "def456", local: map[string]model.RevisionID{"a": "abc123", "b": "abc123"}}
	o := newOrchestrator(t, base, src, &scriptedPuller{fail: map[string]bool{"a": true}})

	results := o.UpdateMany(context.Background(), []string{"a", "b"})

	assert.Equal(t, model.DetailRolledBack, results["a"].Detail)
	assert.Equal(t, "v1", readApp(t, base, "a"))

	assert.Equal(t, model.OutcomeUpdated, results["b"].Outcome)
	assert.Equal(t, "v2", readApp(t, base, "b"))
	assert.NoDirExists(t, filepath.Join(base, "b_backup"))
}

func TestUpdateMany_DuplicatesAndUnknown(t *testing.T) {
	base := setupNodes(t, "n1")
	src := &pathSource{remote: "def456", local: map[string]model.RevisionID{"n1": "abc123"}}
	puller := &scriptedPuller{}
	o := newOrchestrator(t, base, src, puller)

	results := o.UpdateMany(context.Background(), []string{"n1", "ghost", "n1"})

	require.Len(t, results, 2)
	assert.Equal(t, model.OutcomeUpdated, results["n1"].Outcome)
	assert.Equal(t, model.OutcomeNodeNotFound, results["ghost"].Outcome)
	assert.Equal(t, 1, puller.count("n1"))
}

func TestUpdateMany_Empty(t *testing.T) {
	o := newOrchestrator(t, setupNodes(t), &pathSource{}, &scriptedPuller{})
	assert.Empty(t, o.UpdateMany(context.Background(), nil))
}

func TestUpdateOne_ConcurrentSameNodeFailsFast(t *testing.T) {
	base := setupNodes(t, "n1")
	src := &pathSource{remote: "def456", local: map[string]model.RevisionID{"n1": "abc123"}}
	release := make(chan struct{})
	puller := &scriptedPuller{
		block:   map[string]chan struct{}{"n1": release},
		started: make(chan string, 1),
	}
	o := newOrchestrator(t, base, src, puller)

	first := make(chan model.UpdateResult)
	go func() { first <- o.UpdateOne(context.Background(), "n1") }()
	<-puller.started

	second := o.UpdateOne(context.Background(), "n1")
	assert.Equal(t, model.OutcomeNodeBusy, second.Outcome)

	close(release)
	assert.Equal(t, model.OutcomeUpdated, (<-first).Outcome)
	assert.Equal(t, 1, puller.count("n1"))
}

func TestClose_DrainsInFlight(t *testing.T) {
	base := setupNodes(t, "n1")
	src := &pathSource{remote: "def456", local: map[string]model.RevisionID{"n1": "abc123"}}
	release := make(chan struct{})
	puller := &scriptedPuller{
		block:   map[string]chan struct{}{"n1": release},
		started: make(chan string, 1),
	}
	o := newOrchestrator(t, base, src, puller)

	ctx, cancel := context.WithCancel(context.Background())
	inflight := make(chan model.UpdateResult)
	go func() { inflight <- o.UpdateOne(ctx, "n1") }()
	<-puller.started
	cancel() // caller gives up mid-pull

	closed := make(chan error)
	go func() { closed <- o.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while an update was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	rejected := o.UpdateOne(context.Background(), "n1")
	assert.Equal(t, model.OutcomeFailed, rejected.Outcome)
	assert.Contains(t, rejected.Reason, "E_SHUTTING_DOWN")

	close(release)
	assert.Equal(t, model.OutcomeUpdated, (<-inflight).Outcome)
	require.NoError(t, <-closed)
}

func TestClose_Timeout(t *testing.T) {
	base := setupNodes(t, "n1")
	src := &pathSource{remote: "def456", local: map[string]model.RevisionID{"n1": "abc123"}}
	release := make(chan struct{})
	puller := &scriptedPuller{
		block:   map[string]chan struct{}{"n1": release},
		started: make(chan string, 1),
	}
	o := newOrchestrator(t, base, src, puller)

	done := make(chan struct{})
	go func() {
		o.UpdateOne(context.Background(), "n1")
		close(done)
	}()
	<-puller.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, o.Close(ctx), context.DeadlineExceeded)

	close(release)
	<-done
}
