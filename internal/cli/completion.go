package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nammalakes/nodeup/internal/orchestrator"
	"github.com/nammalakes/nodeup/pkg/config"
)

var completionGenerators = map[string]func(cmd *cobra.Command, w io.Writer) error{
	"bash":       func(cmd *cobra.Command, w io.Writer) error { return cmd.Root().GenBashCompletionV2(w, true) },
	"zsh":        func(cmd *cobra.Command, w io.Writer) error { return cmd.Root().GenZshCompletion(w) },
	"fish":       func(cmd *cobra.Command, w io.Writer) error { return cmd.Root().GenFishCompletion(w, true) },
	"powershell": func(cmd *cobra.Command, w io.Writer) error { return cmd.Root().GenPowerShellCompletionWithDesc(w) },
}

var completionCmd = &cobra.Command{
	Use:   "completion bash|zsh|fish|powershell",
	Short: "Print a shell completion script",
	Long: `Print a completion script for the given shell. Node ids complete from
the configured nodes directory.

  source <(nodeup completion bash)
  nodeup completion zsh > "${fpath[1]}/_nodeup"
  nodeup completion fish > ~/.config/fish/completions/nodeup.fish
  nodeup completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		gen := completionGenerators[args[0]]
		if err := gen(cmd, os.Stdout); err != nil {
			fmtErr("generate %s completion: %v", args[0], err)
			return errFailed
		}
		return nil
	},
}

// completeNodeIDs offers registered node ids not already on the command line.
func completeNodeIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	registry, err := orchestrator.RegistryFromConfig(cfg)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	nodes, err := registry.List()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	used := make(map[string]bool, len(args))
	for _, a := range args {
		used[a] = true
	}
	var out []string
	for _, n := range nodes {
		if !used[n.ID] && strings.HasPrefix(n.ID, toComplete) {
			out = append(out, n.ID)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
