// Package executor applies one update to one node.
//
// An attempt moves through a fixed sequence of states:
//
//	start -> checked_version -> up_to_date
//	                         -> backing_up -> backed -> pull_executed -> success
//	                                                                 -> failed -> rolled_back
//
// The working tree is only touched after a verified backup exists, and a
// failed pull is always followed by a restore from that backup. Every
// transition is written to the audit log.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/nammalakes/nodeup/internal/audit"
	"github.com/nammalakes/nodeup/internal/vcs"
	"github.com/nammalakes/nodeup/pkg/config"
	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/logging"
	"github.com/nammalakes/nodeup/pkg/metrics"
	"github.com/nammalakes/nodeup/pkg/model"
	"github.com/nammalakes/nodeup/pkg/progress"
)

// State is a step of one update attempt.
type State string

const (
	StateStart          State = "start"
	StateCheckedVersion State = "checked_version"
	StateUpToDate       State = "up_to_date"
	StateBackingUp      State = "backing_up"
	StateBacked         State = "backed"
	StatePullExecuted   State = "pull_executed"
	StateSuccess        State = "success"
	StateFailed         State = "failed"
	StateRolledBack     State = "rolled_back"
)

const totalSteps = 4

// RevisionSource resolves the local and remote revisions of a node.
type RevisionSource interface {
	LatestRemoteRevision(ctx context.Context) (model.RevisionID, error)
	LocalRevision(ctx context.Context, path string) (model.RevisionID, error)
}

// Puller applies remote changes to a working tree.
type Puller interface {
	Pull(ctx context.Context, path, branch string) (vcs.PullResult, error)
}

// Backups snapshots and restores working trees.
type Backups interface {
	Snapshot(ctx context.Context, repo model.NodeRepository) (*model.Backup, error)
	Restore(ctx context.Context, repo model.NodeRepository) error
	Discard(repo model.NodeRepository) error
}

// Alerter receives every finished result; it decides which ones to escalate.
type Alerter interface {
	NotifyResult(res model.UpdateResult)
}

// Options configures an Executor. Zero timeouts and attempt counts take
// the defaults from config.Default.
type Options struct {
	Branch   string
	Timeouts config.TimeoutConfig
	Retry    config.RetryConfig
	Audit    audit.Log
	Metrics  *metrics.Registry
	Alerts   Alerter
	Progress progress.Callback
}

func (o Options) withDefaults() Options {
	def := config.Default()
	if o.Branch == "" {
		o.Branch = def.Remote.Branch
	}
	if o.Timeouts.Remote <= 0 {
		o.Timeouts.Remote = def.Timeouts.Remote
	}
	if o.Timeouts.Backup <= 0 {
		o.Timeouts.Backup = def.Timeouts.Backup
	}
	if o.Timeouts.Pull <= 0 {
		o.Timeouts.Pull = def.Timeouts.Pull
	}
	if o.Retry.RemoteAttempts < 1 {
		o.Retry.RemoteAttempts = 1
	}
	if o.Retry.PullAttempts < 1 {
		o.Retry.PullAttempts = 1
	}
	if o.Retry.Delay < 0 {
		o.Retry.Delay = 0
	}
	if o.Audit == nil {
		o.Audit = audit.Discard
	}
	if o.Progress == nil {
		o.Progress = progress.Noop
	}
	return o
}

// Executor runs update attempts. It holds no per-node state and is safe
// for concurrent use on different nodes; callers serialise attempts on the
// same node.
type Executor struct {
	source  RevisionSource
	backups Backups
	puller  Puller
	opts    Options
	log     *logging.Logger
}

// New creates an Executor.
func New(source RevisionSource, backups Backups, puller Puller, opts Options) *Executor {
	return &Executor{
		source:  source,
		backups: backups,
		puller:  puller,
		opts:    opts.withDefaults(),
		log:     logging.WithFields(map[string]any{"component": "executor"}),
	}
}

// Update checks the node against the remote and, when they differ, backs
// it up, pulls, and restores the backup if the pull fails. It never
// returns an error: every failure is classified in the result.
//
// Cancelling ctx stops an attempt only before its backup starts. After
// that each step runs to completion, bounded by its own timeout.
func (e *Executor) Update(ctx context.Context, repo model.NodeRepository) model.UpdateResult {
	done := e.opts.Metrics.TrackInFlight()
	defer done()

	r := &run{
		e:    e,
		repo: repo,
		log:  e.log.WithFields(map[string]any{"node": repo.ID, "run": uuid.NewString()}),
		res: model.UpdateResult{
			NodeID:    repo.ID,
			StartedAt: time.Now().UTC(),
		},
		state: StateStart,
	}
	res := r.execute(ctx)
	res.FinishedAt = time.Now().UTC()

	e.opts.Metrics.RecordUpdate(res.Outcome, res.Duration())
	if e.opts.Alerts != nil {
		e.opts.Alerts.NotifyResult(res)
	}

	fields := map[string]any{"outcome": string(res.Outcome), "detail": res.Detail, "duration_ms": res.Duration().Milliseconds()}
	switch {
	case res.Critical:
		r.log.Error("update failed and rollback failed; node may be inconsistent", fields, map[string]any{"reason": res.Reason})
	case res.Outcome.Succeeded():
		r.log.Info("update finished", fields)
	default:
		r.log.Warn("update finished", fields, map[string]any{"reason": res.Reason})
	}
	return res
}

// run is the state of one attempt.
type run struct {
	e     *Executor
	repo  model.NodeRepository
	log   *logging.Logger
	res   model.UpdateResult
	state State
}

func (r *run) enter(s State, message string) {
	r.log.Debug("state transition", map[string]any{"from": string(r.state), "to": string(s)})
	r.state = s
	r.e.opts.Audit.Append(message)
}

func (r *run) step(n int, message string) {
	r.e.opts.Progress(r.repo.ID, n, totalSteps, message)
}

func (r *run) finish(outcome model.Outcome, detail string, cause error) model.UpdateResult {
	r.res.Outcome = outcome
	r.res.Detail = detail
	if cause != nil {
		r.res.Reason = cause.Error()
	}
	return r.res
}

func (r *run) execute(ctx context.Context) model.UpdateResult {
	id := r.repo.ID
	r.step(1, "Checking for updates...")

	local, err := r.localRevision(ctx)
	if err != nil {
		if errors.Is(err, errclass.ErrNotAWorkingTree) {
			r.enter(StateFailed, fmt.Sprintf("ERROR: Node %s does not exist.", id))
			r.step(totalSteps, fmt.Sprintf("Node %s does not exist.", id))
			return r.finish(model.OutcomeNodeNotFound, "node does not exist", err)
		}
		r.enter(StateFailed, fmt.Sprintf("ERROR: Could not read local revision of %s: %v", id, err))
		r.step(totalSteps, "Could not retrieve commit data.")
		return r.finish(model.OutcomeFailed, "local revision unavailable", err)
	}
	r.res.LocalRevision = local

	remote, err := r.remoteRevision(ctx)
	if err != nil {
		r.e.opts.Metrics.RecordRemoteFailure()
		r.enter(StateFailed, fmt.Sprintf("ERROR: Could not retrieve remote revision for %s: %v", id, err))
		r.step(totalSteps, "Could not retrieve commit data.")
		return r.finish(model.OutcomeFailed, model.DetailRemoteUnavailable, err)
	}
	r.res.RemoteRevision = remote

	r.enter(StateCheckedVersion, fmt.Sprintf("Checked %s: local %s, remote %s.", id, local.Short(), remote.Short()))
	if local == remote {
		r.enter(StateUpToDate, fmt.Sprintf("Node %s is up to date.", id))
		r.step(totalSteps, "No new updates available.")
		return r.finish(model.OutcomeUpToDate, fmt.Sprintf("already at %s", remote.Short()), nil)
	}
	r.step(1, "New update found! Applying changes...")

	// the tree is about to change; let every step finish even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	r.step(2, "Creating backup...")
	r.enter(StateBackingUp, fmt.Sprintf("Backing up %s.", id))
	bctx, cancel := context.WithTimeout(ctx, r.e.opts.Timeouts.Backup)
	b, err := r.e.backups.Snapshot(bctx, r.repo)
	cancel()
	if err != nil {
		r.enter(StateFailed, fmt.Sprintf("ERROR: Backup failed for %s: %v. Update skipped.", id, err))
		r.step(totalSteps, "Skipping update due to failed backup.")
		return r.finish(model.OutcomeFailed, model.DetailBackupFailed, err)
	}
	r.e.opts.Metrics.RecordBackup(b.Bytes)
	r.enter(StateBacked, fmt.Sprintf("Backup created for %s.", id))
	r.step(2, "Backup created successfully.")

	r.step(3, "Pulling latest changes...")
	err = r.pullWithRollback(ctx)
	var rbErr *rollbackError
	switch {
	case err == nil:
		if dErr := r.e.backups.Discard(r.repo); dErr != nil {
			r.e.opts.Audit.Append(fmt.Sprintf("WARNING: Could not remove backup for %s: %v", id, dErr))
			r.log.Warn("backup not discarded", map[string]any{"error": dErr.Error()})
		}
		r.enter(StateSuccess, fmt.Sprintf("SUCCESS: Updated %s", id))
		r.step(totalSteps, "Repository updated successfully.")
		return r.finish(model.OutcomeUpdated, fmt.Sprintf("updated %s to %s", local.Short(), remote.Short()), nil)

	case errors.As(err, &rbErr):
		r.res.Critical = true
		r.e.opts.Audit.Append(fmt.Sprintf("CRITICAL: Update failed AND rollback failed for %s.", id))
		r.step(totalSteps, "Rollback failed. Node needs manual attention.")
		return r.finish(model.OutcomeFailed, model.DetailRollbackFailed, fmt.Errorf("%v; %w", rbErr.pull, rbErr.err))

	default:
		r.res.RolledBack = true
		r.e.opts.Audit.Append(fmt.Sprintf("ERROR: Update failed for %s. Rolled back.", id))
		return r.finish(model.OutcomeFailed, model.DetailRolledBack, err)
	}
}

func (r *run) localRevision(ctx context.Context) (model.RevisionID, error) {
	lctx, cancel := context.WithTimeout(ctx, r.e.opts.Timeouts.Remote)
	defer cancel()
	return r.e.source.LocalRevision(lctx, r.repo.WorkingPath)
}

func (r *run) remoteRevision(ctx context.Context) (model.RevisionID, error) {
	op := func() (model.RevisionID, error) {
		lctx, cancel := context.WithTimeout(ctx, r.e.opts.Timeouts.Remote)
		defer cancel()
		return r.e.source.LatestRemoteRevision(lctx)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(r.e.newBackOff()),
		backoff.WithMaxTries(uint(r.e.opts.Retry.RemoteAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("remote lookup failed, retrying", map[string]any{"error": err.Error(), "retry_in": next.String()})
		}),
	)
}

// rollbackError stops pull retries: the tree could not be restored.
type rollbackError struct {
	pull error
	err  error
}

func (e *rollbackError) Error() string { return e.err.Error() }
func (e *rollbackError) Unwrap() error { return e.err }

// pullWithRollback pulls up to PullAttempts times. Every failed pull is
// followed by a restore, so each retry starts from the backed-up tree.
// It returns nil on success, the last pull error after a successful
// rollback, or a *rollbackError when a restore failed.
func (r *run) pullWithRollback(ctx context.Context) error {
	attempts := r.e.opts.Retry.PullAttempts
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		pullErr := r.pullOnce(ctx, attempt, attempts)
		if pullErr == nil {
			return struct{}{}, nil
		}
		if err := r.rollback(ctx); err != nil {
			return struct{}{}, backoff.Permanent(&rollbackError{pull: pullErr, err: err})
		}
		return struct{}{}, pullErr
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.e.newBackOff()),
		backoff.WithMaxTries(uint(attempts)),
	)
	return err
}

func (r *run) pullOnce(ctx context.Context, attempt, attempts int) error {
	id := r.repo.ID
	pctx, cancel := context.WithTimeout(ctx, r.e.opts.Timeouts.Pull)
	defer cancel()

	res, err := r.callPuller(pctx)
	if err == nil && res.OK {
		r.enter(StatePullExecuted, fmt.Sprintf("Pull succeeded for %s.", id))
		return nil
	}

	var pullErr error
	switch {
	case errors.Is(pctx.Err(), context.DeadlineExceeded):
		pullErr = errclass.ErrPullFailed.WithMessagef("pull timed out after %s", r.e.opts.Timeouts.Pull)
	case err != nil:
		pullErr = errclass.ErrPullFailed.WithMessage(err.Error())
	default:
		pullErr = errclass.ErrPullFailed.WithMessage(res.Diagnostic)
	}
	r.enter(StatePullExecuted, fmt.Sprintf("Pull failed for %s (attempt %d/%d).", id, attempt, attempts))
	r.enter(StateFailed, fmt.Sprintf("ERROR: Update failed for %s: %v", id, pullErr))
	r.step(3, fmt.Sprintf("Update failed: %v. Restoring backup...", pullErr))
	return pullErr
}

// callPuller turns a panic in the puller into an error so the tree it may
// have half-written is still restored.
func (r *run) callPuller(ctx context.Context) (res vcs.PullResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = vcs.PullResult{}
			err = fmt.Errorf("pull panicked: %v", p)
		}
	}()
	return r.e.puller.Pull(ctx, r.repo.WorkingPath, r.e.opts.Branch)
}

func (r *run) rollback(ctx context.Context) error {
	err := r.e.backups.Restore(ctx, r.repo)
	r.e.opts.Metrics.RecordRollback(err == nil)
	if err != nil {
		if errors.Is(err, errclass.ErrNoBackupFound) {
			r.e.opts.Audit.Append("No backup found to rollback.")
		} else {
			r.e.opts.Audit.Append(fmt.Sprintf("CRITICAL: Rollback failed for %s: %v", r.repo.ID, err))
		}
		return err
	}
	r.enter(StateRolledBack, "Rollback successful.")
	r.step(4, "Rollback successful: Restored backup.")
	return nil
}

func (e *Executor) newBackOff() backoff.BackOff {
	if e.opts.Retry.Delay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.Retry.Delay
	return b
}
