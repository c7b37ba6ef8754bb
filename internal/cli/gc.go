package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nammalakes/nodeup/internal/gc"
	"github.com/nammalakes/nodeup/pkg/color"
)

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove leftovers of interrupted updates",
	Long: `Remove leftovers of interrupted updates.

Collects backup and restore staging directories, trees replaced by a
restore, expired lock files and stale temp files. Nodes with an update in
progress are skipped. Backups kept after a rollback are never removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		collector := gc.NewCollector(a.registry, a.locks, a.audit)
		plan, err := collector.Plan()
		if err != nil {
			return err
		}

		if gcDryRun {
			if jsonOutput {
				return outputJSON(plan)
			}
			if len(plan.Items) == 0 {
				fmt.Println("Nothing to collect.")
			}
			for _, it := range plan.Items {
				fmt.Printf("  would remove %s %s\n", color.Dim(string(it.Kind)), it.Path)
			}
			for _, id := range plan.Busy {
				fmt.Printf("  skipping %s (update in progress)\n", color.NodeID(id))
			}
			return nil
		}

		report, err := collector.Run(plan)
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := outputJSON(report); err != nil {
				return err
			}
		} else {
			fmt.Printf("Removed %d leftover paths.\n", len(report.Removed))
			for _, id := range append(plan.Busy, report.Skipped...) {
				fmt.Printf("  skipped %s (update in progress)\n", color.NodeID(id))
			}
			for _, e := range report.Errors {
				fmt.Println(color.Error("  " + e))
			}
		}
		if len(report.Errors) > 0 {
			return errFailed
		}
		return nil
	},
}

func init() {
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "list what would be removed")
	rootCmd.AddCommand(gcCmd)
}
