package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nammalakes/nodeup/pkg/color"
)

// errFailed is returned by commands that already reported their failure;
// Execute exits non-zero without printing it again.
var errFailed = errors.New("failed")

var (
	jsonOutput bool
	configPath string
	noColor    bool
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "nodeup",
		Short: "nodeup - safe git updates for node checkouts",
		Long: `nodeup keeps node checkouts on the latest revision of a remote branch.
Every update is preceded by a verified backup, and a failed pull restores
the node to the revision it had before the attempt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default nodeup.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmtErr("%v", err)
		}
		os.Exit(1)
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtErr(format string, args ...any) {
	prefix := "nodeup: "
	if color.Enabled() {
		prefix = color.Error("nodeup:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
