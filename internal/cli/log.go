package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nammalakes/nodeup/internal/audit"
	"github.com/nammalakes/nodeup/pkg/color"
	"github.com/nammalakes/nodeup/pkg/model"
)

var (
	logLines int
	logNode  string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the update log",
	Long: `Show the most recent entries of the update log.

--node keeps only entries that mention the given node id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var records []model.AuditRecord
		if logNode == "" {
			records, err = audit.Tail(cfg.AuditLogPath(), logLines)
		} else {
			records, err = audit.ReadRecords(cfg.AuditLogPath())
			records = filterRecords(records, logNode)
			if logLines > 0 && len(records) > logLines {
				records = records[len(records)-logLines:]
			}
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			if records == nil {
				records = []model.AuditRecord{}
			}
			return outputJSON(records)
		}
		for _, r := range records {
			fmt.Println(formatRecord(r))
		}
		return nil
	},
}

func filterRecords(records []model.AuditRecord, nodeID string) []model.AuditRecord {
	var out []model.AuditRecord
	for _, r := range records {
		if strings.Contains(r.Message, nodeID) {
			out = append(out, r)
		}
	}
	return out
}

func formatRecord(r model.AuditRecord) string {
	msg := r.Message
	switch {
	case strings.HasPrefix(msg, "CRITICAL:"), strings.HasPrefix(msg, "ERROR:"):
		msg = color.Error(msg)
	case strings.HasPrefix(msg, "WARNING:"):
		msg = color.Warning(msg)
	case strings.HasPrefix(msg, "SUCCESS:"):
		msg = color.Success(msg)
	}
	if r.Timestamp.IsZero() {
		return msg
	}
	return color.Dim("["+r.Timestamp.Format(audit.TimeLayout)+"]") + " " + msg
}

func init() {
	logCmd.Flags().IntVarP(&logLines, "lines", "n", 20, "number of entries to show (0 for all)")
	logCmd.Flags().StringVar(&logNode, "node", "", "only show entries mentioning this node")
	rootCmd.AddCommand(logCmd)
}
