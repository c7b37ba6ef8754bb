package cli

import (
	"context"

	"github.com/nammalakes/nodeup/internal/audit"
	"github.com/nammalakes/nodeup/internal/backup"
	"github.com/nammalakes/nodeup/internal/executor"
	"github.com/nammalakes/nodeup/internal/lock"
	"github.com/nammalakes/nodeup/internal/orchestrator"
	"github.com/nammalakes/nodeup/internal/revision"
	"github.com/nammalakes/nodeup/internal/vcs"
	"github.com/nammalakes/nodeup/pkg/config"
	"github.com/nammalakes/nodeup/pkg/logging"
	"github.com/nammalakes/nodeup/pkg/metrics"
	"github.com/nammalakes/nodeup/pkg/model"
	"github.com/nammalakes/nodeup/pkg/progress"
	"github.com/nammalakes/nodeup/pkg/webhook"
)

// loadConfig reads and validates the file named by --config, then installs
// the configured global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(lc config.LoggingConfig) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	if verbose {
		level = logging.LevelDebug
	}
	l := logging.NewLogger(level)
	l.SetFormat(logging.Format(lc.Format))
	logging.SetGlobal(l)
}

// app holds the collaborators built from one configuration.
type app struct {
	cfg      *config.Config
	registry *orchestrator.Registry
	git      *vcs.Git
	source   *revision.Source
	locks    *lock.Manager
	backups  *backup.Manager
	metrics  *metrics.Registry
	audit    *audit.FileAppender
	alerts   *webhook.Client
	orch     *orchestrator.Orchestrator
}

// newApp wires the orchestrator described by cfg. cb receives step
// progress; nil discards it.
func newApp(cfg *config.Config, cb progress.Callback) (*app, error) {
	registry, err := orchestrator.RegistryFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		registry: registry,
		git:      &vcs.Git{Binary: cfg.Git.Binary, Remote: cfg.Git.Remote},
		locks:    lock.NewManager(model.LockPolicy{LeaseTTL: cfg.Lock.LeaseTTL}),
		backups:  backup.NewManager(nil),
		metrics:  metrics.NewRegistry(),
		audit:    audit.NewFileAppender(cfg.AuditLogPath()),
	}
	a.source = revision.NewSource(revision.NewGitHub(revision.GitHubConfig{
		APIURL:  cfg.Remote.APIURL,
		Owner:   cfg.Remote.Owner,
		Repo:    cfg.Remote.Repo,
		Branch:  cfg.Remote.Branch,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	}), a.git)

	opts := executor.Options{
		Branch:   cfg.Remote.Branch,
		Timeouts: cfg.Timeouts,
		Retry:    cfg.Retry,
		Audit:    a.audit,
		Metrics:  a.metrics,
		Progress: cb,
	}
	if cfg.Webhook != nil {
		a.alerts = webhook.NewClient(cfg.Webhook)
		opts.Alerts = a.alerts
	}

	updater := executor.New(a.source, a.backups, a.git, opts)
	a.orch = orchestrator.New(registry, updater, a.locks, orchestrator.Options{
		Workers: cfg.Workers,
		Audit:   a.audit,
		Metrics: a.metrics,
	})
	return a, nil
}

// close waits for in-flight updates and flushes queued alerts.
func (a *app) close(ctx context.Context) error {
	err := a.orch.Close(ctx)
	if a.alerts != nil {
		a.alerts.Close()
	}
	return err
}

func nodeIDs(nodes []model.NodeRepository) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// dedupe drops repeated ids, keeping first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
