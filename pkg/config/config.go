// Package config provides configuration file support for nodeup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/model"
	"github.com/nammalakes/nodeup/pkg/webhook"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "nodeup.yaml"

// Config represents the nodeup configuration.
type Config struct {
	Remote       RemoteConfig    `yaml:"remote" validate:"required"`
	Git          GitConfig       `yaml:"git"`
	NodesDir     string          `yaml:"nodes_dir,omitempty"`
	Nodes        []NodeConfig    `yaml:"nodes,omitempty" validate:"dive"`
	BackupSuffix string          `yaml:"backup_suffix" validate:"required,excludesall=/\\"`
	Workers      int             `yaml:"workers" validate:"min=1,max=256"`
	Timeouts     TimeoutConfig   `yaml:"timeouts"`
	Retry        RetryConfig     `yaml:"retry"`
	Lock         LockConfig      `yaml:"lock"`
	AuditLog     string          `yaml:"audit_log,omitempty"`
	Logging      LoggingConfig   `yaml:"logging"`
	Server       ServerConfig    `yaml:"server"`
	Webhook      *webhook.Config `yaml:"webhook,omitempty"`
}

// RemoteConfig points at the repository-hosting API that knows the latest revision.
type RemoteConfig struct {
	APIURL  string        `yaml:"api_url" validate:"required,url"`
	Owner   string        `yaml:"owner" validate:"required"`
	Repo    string        `yaml:"repo" validate:"required"`
	Branch  string        `yaml:"branch" validate:"required"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// GitConfig configures the revision-control collaborator.
type GitConfig struct {
	Binary string `yaml:"binary" validate:"required"`
	Remote string `yaml:"remote" validate:"required"`
}

// NodeConfig registers one node explicitly.
type NodeConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Path string `yaml:"path" validate:"required"`
}

// TimeoutConfig bounds each blocking step of an update.
type TimeoutConfig struct {
	Remote time.Duration `yaml:"remote" validate:"gt=0"`
	Backup time.Duration `yaml:"backup" validate:"gt=0"`
	Pull   time.Duration `yaml:"pull" validate:"gt=0"`
}

// RetryConfig configures retries of remote lookups and pulls. An attempt
// count of 1 means no retry.
type RetryConfig struct {
	RemoteAttempts int           `yaml:"remote_attempts" validate:"min=1"`
	PullAttempts   int           `yaml:"pull_attempts" validate:"min=1"`
	Delay          time.Duration `yaml:"delay" validate:"gte=0"`
}

// LockConfig configures the on-disk node lease.
type LockConfig struct {
	LeaseTTL time.Duration `yaml:"lease_ttl" validate:"gt=0"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			APIURL:  "https://api.github.com",
			Branch:  "main",
			Timeout: 10 * time.Second,
		},
		Git: GitConfig{
			Binary: "git",
			Remote: "origin",
		},
		BackupSuffix: model.DefaultBackupSuffix,
		Workers:      4,
		Timeouts: TimeoutConfig{
			Remote: 10 * time.Second,
			Backup: 10 * time.Minute,
			Pull:   5 * time.Minute,
		},
		Retry: RetryConfig{
			RemoteAttempts: 1,
			PullAttempts:   1,
			Delay:          2 * time.Second,
		},
		Lock: LockConfig{
			LeaseTTL: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Listen: ":8000",
		},
	}
}

// Load reads the config file at path, then a .env file next to it, then
// NODEUP_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errclass.ErrConfigInvalid.WithMessagef("parse %s: %v", path, err)
		}
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"NODEUP_GITHUB_TOKEN": &c.Remote.Token,
		"NODEUP_REMOTE_OWNER": &c.Remote.Owner,
		"NODEUP_REMOTE_REPO":  &c.Remote.Repo,
		"NODEUP_BRANCH":       &c.Remote.Branch,
		"NODEUP_NODES_DIR":    &c.NodesDir,
		"NODEUP_AUDIT_LOG":    &c.AuditLog,
		"NODEUP_LISTEN":       &c.Server.Listen,
		"NODEUP_LOG_LEVEL":    &c.Logging.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("NODEUP_WORKERS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("NODEUP_WORKERS: %v", err)
		}
		c.Workers = n
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that at least one node source is configured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errclass.ErrConfigInvalid.WithMessage(strings.Join(msgs, "; "))
		}
		return errclass.ErrConfigInvalid.WithMessage(err.Error())
	}
	if c.NodesDir == "" && len(c.Nodes) == 0 {
		return errclass.ErrConfigInvalid.WithMessage("either nodes_dir or nodes must be set")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if seen[n.ID] {
			return errclass.ErrConfigInvalid.WithMessagef("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}

// AuditLogPath returns the configured audit log, defaulting to
// update_logs.txt inside the nodes directory.
func (c *Config) AuditLogPath() string {
	if c.AuditLog != "" {
		return c.AuditLog
	}
	if c.NodesDir != "" {
		return filepath.Join(c.NodesDir, "update_logs.txt")
	}
	return "update_logs.txt"
}

// Save writes configuration to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
