package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nammalakes/nodeup/pkg/color"
	"github.com/nammalakes/nodeup/pkg/model"
)

type nodeStatus struct {
	ID       string           `json:"id"`
	Path     string           `json:"path"`
	Local    model.RevisionID `json:"local_revision,omitempty"`
	Remote   model.RevisionID `json:"remote_revision,omitempty"`
	UpToDate bool             `json:"up_to_date"`
	Lock     model.LockState  `json:"lock"`
	Backup   bool             `json:"backup"`
	Error    string           `json:"error,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status [node-id...]",
	Short: "Compare nodes with the remote revision without updating",
	Long: `Compare nodes with the remote revision without updating.

Without arguments every registered node is shown. The lock column reports
whether an update currently holds the node, and backup whether a backup
kept from a failed update is present.`,
	ValidArgsFunction: completeNodeIDs,
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

		var nodes []model.NodeRepository
		if len(args) == 0 {
			if nodes, err = a.registry.List(); err != nil {
				return err
			}
		} else {
			for _, id := range dedupe(args) {
				n, err := a.registry.Resolve(id)
				if err != nil {
					all, _ := a.registry.List()
					fmtErr("node '%s' does not exist. %s", id, suggestNodes(id, all))
					return errFailed
				}
				nodes = append(nodes, n)
			}
		}

		ctx := cmd.Context()
		remoteCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Remote)
		remote, remoteErr := a.source.LatestRemoteRevision(remoteCtx)
		cancel()

		statuses := make([]nodeStatus, 0, len(nodes))
		for _, n := range nodes {
			statuses = append(statuses, a.nodeStatus(ctx, n, remote))
		}

		if jsonOutput {
			out := map[string]any{"branch": cfg.Remote.Branch, "nodes": statuses}
			if remoteErr != nil {
				out["remote_error"] = remoteErr.Error()
			} else {
				out["remote_revision"] = remote
			}
			return outputJSON(out)
		}

		if remoteErr != nil {
			fmt.Println(color.Warning(fmt.Sprintf("Remote %s unavailable: %v", cfg.Remote.Branch, remoteErr)))
		} else {
			fmt.Printf("Remote %s: %s\n", cfg.Remote.Branch, remote.Short())
		}
		if len(statuses) == 0 {
			fmt.Println("No nodes registered.")
			return nil
		}
		for _, s := range statuses {
			fmt.Println(formatStatus(s))
		}
		return nil
	},
}

func (a *app) nodeStatus(ctx context.Context, n model.NodeRepository, remote model.RevisionID) nodeStatus {
	s := nodeStatus{ID: n.ID, Path: n.WorkingPath, Lock: model.LockStateFree, Backup: a.backups.Exists(n)}
	if state, _, err := a.locks.Status(n); err == nil {
		s.Lock = state
	}

	local, err := a.source.LocalRevision(ctx, n.WorkingPath)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Local = local
	s.Remote = remote
	s.UpToDate = remote != "" && local == remote
	return s
}

func formatStatus(s nodeStatus) string {
	var state string
	switch {
	case s.Error != "":
		state = color.Error(s.Error)
	case s.Remote == "":
		state = color.Dim("unknown")
	case s.UpToDate:
		state = color.Success("up to date")
	default:
		state = color.Warning("behind " + s.Remote.Short())
	}
	line := fmt.Sprintf("  %-20s %-8s %s", color.NodeID(s.ID), s.Local.Short(), state)
	if s.Lock == model.LockStateHeld {
		line += color.Dim(" [locked]")
	}
	if s.Backup {
		line += color.Dim(" [backup]")
	}
	return line
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
