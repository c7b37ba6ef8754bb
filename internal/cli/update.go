package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nammalakes/nodeup/pkg/client"
	"github.com/nammalakes/nodeup/pkg/color"
	"github.com/nammalakes/nodeup/pkg/model"
	"github.com/nammalakes/nodeup/pkg/progress"
)

var (
	updateServer  string
	updateAll     bool
	updateTimeout time.Duration
)

var updateCmd = &cobra.Command{
	Use:   "update [node-id...]",
	Short: "Update nodes to the latest remote revision",
	Long: `Update nodes to the latest remote revision.

Each node is compared with the tip of the configured branch. A node that is
behind is backed up, pulled, and restored from the backup if the pull fails.
Several ids are updated concurrently.

With --server the request is sent to a running "nodeup serve" instead of
being executed locally.

Exit status is 0 when every node ends up to date, 1 otherwise.`,
	ValidArgsFunction: completeNodeIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !updateAll {
			return errors.New("at least one node id is required (or --all)")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if updateServer != "" {
			return runRemoteUpdate(ctx, dedupe(args))
		}
		return runLocalUpdate(ctx, dedupe(args))
	},
}

func runLocalUpdate(ctx context.Context, ids []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var cb progress.Callback
	if !jsonOutput {
		cb = progress.NewLines(os.Stdout, updateAll || len(ids) > 1).Callback()
	}
	a, err := newApp(cfg, cb)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if updateAll {
		nodes, err := a.registry.List()
		if err != nil {
			return err
		}
		ids = nodeIDs(nodes)
		if len(ids) == 0 {
			return errors.New("no nodes registered")
		}
	}

	responses := make(map[string]model.NodeResponse, len(ids))
	if len(ids) == 1 {
		res := a.orch.UpdateOne(ctx, ids[0])
		responses[ids[0]] = model.NewNodeResponse(res)
	} else {
		for id, res := range a.orch.UpdateMany(ctx, ids) {
			responses[id] = model.NewNodeResponse(res)
		}
	}

	var known []model.NodeRepository
	for _, r := range responses {
		if r.Outcome == model.OutcomeNodeNotFound {
			known, _ = a.registry.List()
			break
		}
	}
	return reportUpdates(ids, responses, known)
}

func runRemoteUpdate(ctx context.Context, ids []string) error {
	c := client.New(updateServer, updateTimeout)

	if updateAll {
		nodes, err := c.Nodes(ctx)
		if err != nil {
			return err
		}
		ids = nodeIDs(nodes)
		if len(ids) == 0 {
			return errors.New("no nodes registered")
		}
	}

	var responses map[string]model.NodeResponse
	if len(ids) == 1 {
		resp, err := c.UpdateNode(ctx, ids[0])
		if err != nil {
			return err
		}
		responses = map[string]model.NodeResponse{ids[0]: resp}
	} else {
		var err error
		if responses, err = c.UpdateNodes(ctx, ids); err != nil {
			return err
		}
	}
	return reportUpdates(ids, responses, nil)
}

// reportUpdates prints one final line per node in request order and
// returns errFailed when any node did not end up to date. known, when set,
// is used to suggest ids for unknown nodes.
func reportUpdates(ids []string, responses map[string]model.NodeResponse, known []model.NodeRepository) error {
	if jsonOutput {
		if err := outputJSON(responses); err != nil {
			return err
		}
	} else {
		for _, id := range ids {
			r, ok := responses[id]
			if !ok {
				continue
			}
			if r.Succeeded() {
				fmt.Println(color.Result(true, r.Message))
				continue
			}
			fmt.Println(color.Result(false, r.Error))
			if r.Outcome == model.OutcomeNodeNotFound && known != nil {
				fmt.Println(color.Dim("  " + suggestNodes(id, known)))
			}
		}
	}

	for _, r := range responses {
		if !r.Succeeded() {
			return errFailed
		}
	}
	return nil
}

func init() {
	updateCmd.Flags().StringVar(&updateServer, "server", "", "send the update to a running service at this URL")
	updateCmd.Flags().BoolVar(&updateAll, "all", false, "update every registered node")
	updateCmd.Flags().DurationVar(&updateTimeout, "timeout", 30*time.Minute, "request timeout when using --server")
	rootCmd.AddCommand(updateCmd)
}
