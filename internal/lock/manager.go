// Package lock provides per-node mutual exclusion for update attempts.
//
// A node is held through two layers: an in-process set of held node ids,
// and a lease file at <workingPath>.lock created with O_EXCL so that a
// CLI run and a running service exclude each other. Acquisition never
// waits; a held node fails with ErrNodeBusy.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/fsutil"
	"github.com/nammalakes/nodeup/pkg/model"
)

// DefaultLeaseTTL applies when the policy leaves LeaseTTL unset.
const DefaultLeaseTTL = 30 * time.Minute

// Manager handles node lock operations.
type Manager struct {
	policy model.LockPolicy
	now    func() time.Time

	mu   sync.Mutex
	held map[string]string // node id -> holder nonce
}

// NewManager creates a new lock manager.
func NewManager(policy model.LockPolicy) *Manager {
	if policy.LeaseTTL <= 0 {
		policy.LeaseTTL = DefaultLeaseTTL
	}
	return &Manager{
		policy: policy,
		now:    time.Now,
		held:   make(map[string]string),
	}
}

// Acquire takes the node's lock or fails immediately with ErrNodeBusy.
// An expired lease left by a crashed holder is taken over.
func (m *Manager) Acquire(repo model.NodeRepository, purpose string) (*model.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.held[repo.ID]; busy {
		return nil, errclass.ErrNodeBusy.WithMessagef("node %s has an update in flight", repo.ID)
	}

	now := m.now().UTC()
	rec := &model.LockRecord{
		NodeID:      repo.ID,
		HolderNonce: uuid.NewString(),
		PID:         os.Getpid(),
		AcquiredAt:  now,
		ExpiresAt:   now.Add(m.policy.LeaseTTL),
		Purpose:     purpose,
	}

	lockPath := repo.LockPath()
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	switch {
	case err == nil:
		defer file.Close()
		if err := writeLock(file, rec); err != nil {
			os.Remove(lockPath)
			return nil, err
		}
	case os.IsExist(err):
		if !m.expired(lockPath) {
			return nil, m.busyError(repo, lockPath)
		}
		if err := updateLock(lockPath, rec); err != nil {
			return nil, fmt.Errorf("take over expired lock: %w", err)
		}
	case os.IsNotExist(err):
		return nil, errclass.ErrNotAWorkingTree.WithMessagef("cannot create lock for %s: %v", repo.ID, err)
	default:
		return nil, fmt.Errorf("create lock: %w", err)
	}

	m.held[repo.ID] = rec.HolderNonce
	return rec, nil
}

// Release frees the lock. Releasing a lock that was already removed is a
// no-op; a lease file that now belongs to another holder is left alone.
func (m *Manager) Release(repo model.NodeRepository, holderNonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[repo.ID] == holderNonce {
		delete(m.held, repo.ID)
	}

	lockPath := repo.LockPath()
	rec, err := readLock(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock: %w", err)
	}
	if rec.HolderNonce != holderNonce {
		return fmt.Errorf("lock of %s was taken over by pid %d", repo.ID, rec.PID)
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// Status returns the current lock state.
func (m *Manager) Status(repo model.NodeRepository) (model.LockState, *model.LockRecord, error) {
	rec, err := readLock(repo.LockPath())
	if err != nil {
		if os.IsNotExist(err) {
			return model.LockStateFree, nil, nil
		}
		return model.LockStateFree, nil, fmt.Errorf("read lock: %w", err)
	}
	if rec.IsExpired(m.now()) {
		return model.LockStateExpired, rec, nil
	}
	return model.LockStateHeld, rec, nil
}

// expired reports whether the lease at path may be taken over. A lease file
// that cannot be parsed (a crash between create and write) counts as expired
// once it is older than the lease TTL.
func (m *Manager) expired(path string) bool {
	rec, err := readLock(path)
	if err == nil {
		return rec.IsExpired(m.now())
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return os.IsNotExist(statErr)
	}
	return m.now().Sub(info.ModTime()) > m.policy.LeaseTTL
}

func (m *Manager) busyError(repo model.NodeRepository, path string) error {
	rec, err := readLock(path)
	if err != nil {
		return errclass.ErrNodeBusy.WithMessagef("node %s is locked", repo.ID)
	}
	return errclass.ErrNodeBusy.WithMessagef("node %s is locked by pid %d (%s) until %s",
		repo.ID, rec.PID, rec.Purpose, rec.ExpiresAt.Format(time.RFC3339))
}

func readLock(path string) (*model.LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec model.LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &rec, nil
}

func writeLock(file *os.File, rec *model.LockRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return file.Sync()
}

func updateLock(path string, rec *model.LockRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	return fsutil.AtomicWrite(path, data, 0644)
}
