// Package orchestrator runs node updates for one or many node ids.
//
// Each node is updated independently under its own lock; a batch runs on
// a bounded worker pool and collects exactly one result per distinct id.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nammalakes/nodeup/internal/audit"
	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/logging"
	"github.com/nammalakes/nodeup/pkg/metrics"
	"github.com/nammalakes/nodeup/pkg/model"
)

// DefaultWorkers bounds UpdateMany when Options.Workers is unset.
const DefaultWorkers = 4

// Updater performs one update attempt on a resolved node.
type Updater interface {
	Update(ctx context.Context, repo model.NodeRepository) model.UpdateResult
}

// Locker provides fail-fast per-node mutual exclusion.
type Locker interface {
	Acquire(repo model.NodeRepository, purpose string) (*model.LockRecord, error)
	Release(repo model.NodeRepository, holderNonce string) error
}

// Options configures an Orchestrator.
type Options struct {
	Workers int
	Audit   audit.Log
	Metrics *metrics.Registry
}

// Orchestrator dispatches node updates.
type Orchestrator struct {
	registry *Registry
	updater  Updater
	locks    Locker
	workers  int
	audit    audit.Log
	metrics  *metrics.Registry
	log      *logging.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates an Orchestrator.
func New(registry *Registry, updater Updater, locks Locker, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Audit == nil {
		opts.Audit = audit.Discard
	}
	return &Orchestrator{
		registry: registry,
		updater:  updater,
		locks:    locks,
		workers:  opts.Workers,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		log:      logging.WithFields(map[string]any{"component": "orchestrator"}),
	}
}

// Registry returns the node registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// UpdateOne updates a single node. It never returns an error; unknown ids
// yield NodeNotFound and a node with an update in flight yields NodeBusy.
func (o *Orchestrator) UpdateOne(ctx context.Context, nodeID string) model.UpdateResult {
	started := time.Now().UTC()
	if !o.begin() {
		return o.shortCircuit(nodeID, started, model.OutcomeFailed, "shutting down",
			errclass.ErrShuttingDown.WithMessage("not accepting new updates"))
	}
	defer o.inflight.Done()

	repo, err := o.registry.Resolve(nodeID)
	if err != nil {
		o.audit.Append(fmt.Sprintf("ERROR: Node %s does not exist.", nodeID))
		return o.shortCircuit(nodeID, started, model.OutcomeNodeNotFound, "node does not exist", err)
	}

	rec, err := o.locks.Acquire(repo, "update")
	if err != nil {
		switch {
		case errors.Is(err, errclass.ErrNodeBusy):
			o.audit.Append(fmt.Sprintf("Node %s is busy; update skipped.", nodeID))
			return o.shortCircuit(nodeID, started, model.OutcomeNodeBusy, "update already in progress", err)
		case errors.Is(err, errclass.ErrNotAWorkingTree):
			o.audit.Append(fmt.Sprintf("ERROR: Node %s does not exist.", nodeID))
			return o.shortCircuit(nodeID, started, model.OutcomeNodeNotFound, "node does not exist", err)
		default:
			o.audit.Append(fmt.Sprintf("ERROR: Could not lock node %s: %v", nodeID, err))
			return o.shortCircuit(nodeID, started, model.OutcomeFailed, "lock failed", err)
		}
	}
	defer func() {
		if err := o.locks.Release(repo, rec.HolderNonce); err != nil {
			o.log.Warn("release lock", map[string]any{"node": nodeID, "error": err.Error()})
		}
	}()

	return o.updater.Update(ctx, repo)
}

// UpdateMany updates every distinct id in nodeIDs on the worker pool and
// returns one result per distinct id. Repeated ids run once. A failure on
// one node never affects another.
func (o *Orchestrator) UpdateMany(ctx context.Context, nodeIDs []string) map[string]model.UpdateResult {
	results := make(map[string]model.UpdateResult, len(nodeIDs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.workers)
	seen := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			res := o.UpdateOne(ctx, id)
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// Close stops accepting updates and waits for in-flight ones to reach a
// terminal state, or for ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight updates: %w", ctx.Err())
	}
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.inflight.Add(1)
	return true
}

func (o *Orchestrator) shortCircuit(nodeID string, started time.Time, outcome model.Outcome, detail string, cause error) model.UpdateResult {
	res := model.UpdateResult{
		NodeID:     nodeID,
		Outcome:    outcome,
		Detail:     detail,
		Reason:     cause.Error(),
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	o.metrics.RecordUpdate(res.Outcome, res.Duration())
	o.log.Warn("update skipped", map[string]any{"node": nodeID, "outcome": string(outcome), "reason": res.Reason})
	return res
}
