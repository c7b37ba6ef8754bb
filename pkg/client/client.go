// Package client calls a running nodeup service.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nammalakes/nodeup/pkg/model"
)

// Client talks to the nodeup HTTP service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the service at baseURL. A zero timeout leaves
// requests bounded only by their context; updates can take minutes.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// UpdateNode asks the service to update one node.
func (c *Client) UpdateNode(ctx context.Context, nodeID string) (model.NodeResponse, error) {
	q := url.Values{"node_id": {nodeID}}
	var out model.NodeResponse
	err := c.do(ctx, http.MethodPost, "/update-node?"+q.Encode(), &out)
	return out, err
}

// UpdateNodes asks the service to update several nodes.
func (c *Client) UpdateNodes(ctx context.Context, nodeIDs []string) (map[string]model.NodeResponse, error) {
	q := url.Values{"node_ids": nodeIDs}
	out := make(map[string]model.NodeResponse)
	err := c.do(ctx, http.MethodPost, "/update-multiple-nodes?"+q.Encode(), &out)
	return out, err
}

// Nodes lists the nodes the service knows.
func (c *Client) Nodes(ctx context.Context) ([]model.NodeRepository, error) {
	var out struct {
		Nodes []model.NodeRepository `json:"nodes"`
	}
	err := c.do(ctx, http.MethodGet, "/nodes", &out)
	return out.Nodes, err
}

// Health returns nil when the service answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/healthz", &out)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
