package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nammalakes/nodeup/pkg/config"
	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/fsutil"
	"github.com/nammalakes/nodeup/pkg/model"
	"github.com/nammalakes/nodeup/pkg/pathutil"
)

// Registry maps node ids to their checkouts.
//
// Explicitly configured nodes take precedence. Any other id resolves to the
// directory of the same name under the nodes directory, if one exists.
type Registry struct {
	nodesDir string
	suffix   string
	explicit map[string]model.NodeRepository
	order    []string
}

// NewRegistry creates a registry. nodesDir may be empty when every node is
// listed explicitly.
func NewRegistry(nodesDir string, nodes []config.NodeConfig, backupSuffix string) (*Registry, error) {
	if backupSuffix == "" {
		backupSuffix = model.DefaultBackupSuffix
	}
	r := &Registry{
		suffix:   backupSuffix,
		explicit: make(map[string]model.NodeRepository, len(nodes)),
	}
	if nodesDir != "" {
		abs, err := filepath.Abs(nodesDir)
		if err != nil {
			return nil, fmt.Errorf("resolve nodes dir: %w", err)
		}
		r.nodesDir = abs
	}
	for _, n := range nodes {
		if err := pathutil.ValidateNodeID(n.ID, backupSuffix); err != nil {
			return nil, err
		}
		if _, dup := r.explicit[n.ID]; dup {
			return nil, errclass.ErrConfigInvalid.WithMessagef("duplicate node id %q", n.ID)
		}
		path, err := filepath.Abs(n.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve path of %s: %w", n.ID, err)
		}
		r.explicit[n.ID] = model.NewNodeRepository(n.ID, path, backupSuffix)
		r.order = append(r.order, n.ID)
	}
	return r, nil
}

// RegistryFromConfig builds the registry described by cfg.
func RegistryFromConfig(cfg *config.Config) (*Registry, error) {
	return NewRegistry(cfg.NodesDir, cfg.Nodes, cfg.BackupSuffix)
}

// Resolve returns the node registered under id, or ErrUnknownNode.
func (r *Registry) Resolve(id string) (model.NodeRepository, error) {
	if repo, ok := r.explicit[id]; ok {
		return repo, nil
	}
	if r.nodesDir == "" {
		return model.NodeRepository{}, errclass.ErrUnknownNode.WithMessagef("node %s is not registered", id)
	}
	if err := pathutil.ValidateNodeID(id, r.suffix); err != nil {
		return model.NodeRepository{}, fmt.Errorf("%w: %w", errclass.ErrUnknownNode.WithMessagef("node %q", id), err)
	}

	path := filepath.Join(r.nodesDir, id)
	if err := pathutil.ValidatePathSafety(r.nodesDir, path); err != nil {
		return model.NodeRepository{}, fmt.Errorf("%w: %w", errclass.ErrUnknownNode.WithMessagef("node %q", id), err)
	}
	ok, err := fsutil.DirExists(path)
	if err != nil {
		return model.NodeRepository{}, fmt.Errorf("stat node %s: %w", id, err)
	}
	if !ok {
		return model.NodeRepository{}, errclass.ErrUnknownNode.WithMessagef("node %s does not exist", id)
	}
	return model.NewNodeRepository(id, path, r.suffix), nil
}

// List returns every known node: explicit entries in configuration order,
// then the node directories found under the nodes directory.
func (r *Registry) List() ([]model.NodeRepository, error) {
	nodes := make([]model.NodeRepository, 0, len(r.order))
	for _, id := range r.order {
		nodes = append(nodes, r.explicit[id])
	}
	if r.nodesDir == "" {
		return nodes, nil
	}

	entries, err := os.ReadDir(r.nodesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nodes, nil
		}
		return nil, fmt.Errorf("read nodes dir: %w", err)
	}
	for _, e := range entries {
		id := e.Name()
		if !e.IsDir() || strings.HasPrefix(id, ".") {
			continue
		}
		if _, ok := r.explicit[id]; ok {
			continue
		}
		if pathutil.ValidateNodeID(id, r.suffix) != nil {
			continue
		}
		nodes = append(nodes, model.NewNodeRepository(id, filepath.Join(r.nodesDir, id), r.suffix))
	}
	return nodes, nil
}
