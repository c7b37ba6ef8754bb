package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nammalakes/nodeup/pkg/config"
	"github.com/nammalakes/nodeup/pkg/webhook"
)

const redacted = "<redacted>"

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage nodeup configuration",
	Long: `Manage nodeup configuration.

The file is read from --config, or nodeup.yaml in the current directory.
A .env file next to it and NODEUP_* environment variables override it.

Available commands:
  show              - Show the effective configuration
  init [path]       - Write a default configuration file
  validate          - Check the configuration for errors`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Show the configuration after defaults, .env and environment overrides. Secrets are redacted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = redact(cfg)

		if jsonOutput {
			return outputJSON(cfg)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Printf("# nodeup configuration (%s)\n", configFile())
		fmt.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile()
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		cfg := config.Default()
		cfg.NodesDir = "nodes"
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		fmt.Println("Set remote.owner and remote.repo before running updates.")
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Printf("%s is valid.\n", configFile())
		return nil
	},
}

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath
}

// redact returns a copy of cfg with credentials replaced.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Remote.Token != "" {
		out.Remote.Token = redacted
	}
	if cfg.Webhook != nil {
		wh := *cfg.Webhook
		wh.Hooks = make([]webhook.HookConfig, len(cfg.Webhook.Hooks))
		for i, h := range cfg.Webhook.Hooks {
			if h.Secret != "" {
				h.Secret = redacted
			}
			wh.Hooks[i] = h
		}
		out.Webhook = &wh
	}
	return &out
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
