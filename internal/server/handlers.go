package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nammalakes/nodeup/pkg/logging"
	"github.com/nammalakes/nodeup/pkg/model"
)

// Updater is the part of the orchestrator the service calls.
type Updater interface {
	UpdateOne(ctx context.Context, nodeID string) model.UpdateResult
	UpdateMany(ctx context.Context, nodeIDs []string) map[string]model.UpdateResult
}

// NodeLister lists registered nodes.
type NodeLister interface {
	List() ([]model.NodeRepository, error)
}

// HandleUpdateNode updates the node named by the node_id query parameter.
// Per-node failures are reported in the body with HTTP 200.
func HandleUpdateNode(u Updater) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Query("node_id"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "node_id is required"})
			return
		}
		logging.Info("update requested", map[string]any{"node": id, "remote_addr": c.ClientIP()})
		res := u.UpdateOne(c.Request.Context(), id)
		c.JSON(http.StatusOK, model.NewNodeResponse(res))
	}
}

// HandleUpdateMultipleNodes updates every node named by a node_ids query
// parameter and maps each id to its per-node body.
func HandleUpdateMultipleNodes(u Updater) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := nodeIDs(c.QueryArray("node_ids"))
		if len(ids) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "node_ids is required"})
			return
		}
		logging.Info("batch update requested", map[string]any{"nodes": ids, "remote_addr": c.ClientIP()})
		results := u.UpdateMany(c.Request.Context(), ids)

		body := make(map[string]model.NodeResponse, len(results))
		for id, res := range results {
			body[id] = model.NewNodeResponse(res)
		}
		c.JSON(http.StatusOK, body)
	}
}

// nodeIDs drops blanks; comma-separated values are split.
func nodeIDs(raw []string) []string {
	var ids []string
	for _, v := range raw {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// HandleListNodes returns the registered nodes.
func HandleListNodes(nodes NodeLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := nodes.List()
		if err != nil {
			logging.ErrorErr("list nodes", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list nodes"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": list})
	}
}

// HealthCheck reports that the service is up.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
