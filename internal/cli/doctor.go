package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nammalakes/nodeup/internal/doctor"
	"github.com/nammalakes/nodeup/pkg/color"
)

var (
	doctorStrict bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check node health",
	Long: `Check node health.

Runs diagnostic checks on every registered node and reports missing or
broken working trees, leftover backups, locks and staging directories.
Use --strict to read every backup in full.`,
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

		doc := doctor.NewDoctor(a.registry, a.git, a.locks, cfg.AuditLogPath())
		result, err := doc.Check(cmd.Context(), doctorStrict)
		if err != nil {
			return fmt.Errorf("doctor: %w", err)
		}

		if jsonOutput {
			if err := outputJSON(result); err != nil {
				return err
			}
		} else if len(result.Findings) == 0 {
			fmt.Printf("All %d nodes are healthy.\n", result.Nodes)
		} else {
			fmt.Printf("Findings (%d):\n", len(result.Findings))
			for _, f := range result.Findings {
				fmt.Printf("  [%s] %s: %s\n", severity(f.Severity), f.Category, f.Description)
			}
		}

		if !result.Healthy {
			return errFailed
		}
		return nil
	},
}

func severity(s string) string {
	switch s {
	case "critical", "error":
		return color.Error(s)
	case "warning":
		return color.Warning(s)
	}
	return color.Dim(s)
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "read every backup in full")
	rootCmd.AddCommand(doctorCmd)
}
