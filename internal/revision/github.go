package revision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nammalakes/nodeup/pkg/errclass"
	"github.com/nammalakes/nodeup/pkg/model"
)

// DefaultTimeout bounds one remote lookup.
const DefaultTimeout = 10 * time.Second

// GitHubConfig identifies the branch whose tip is looked up.
type GitHubConfig struct {
	APIURL  string
	Owner   string
	Repo    string
	Branch  string
	Token   string
	Timeout time.Duration
}

// GitHub looks up the tip commit of a branch through the GitHub REST API.
type GitHub struct {
	cfg    GitHubConfig
	client *http.Client
}

// NewGitHub creates a GitHub remote. The token is optional and sent as a
// bearer credential without interpretation.
func NewGitHub(cfg GitHubConfig) *GitHub {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &GitHub{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type commitEntry struct {
	SHA string `json:"sha"`
}

// LatestRevision returns the SHA of the newest commit on the branch.
// Timeouts, transport errors, non-2xx responses and empty or malformed
// bodies all fail with ErrRemoteUnavailable.
func (g *GitHub) LatestRevision(ctx context.Context) (model.RevisionID, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits?sha=%s&per_page=1",
		strings.TrimRight(g.cfg.APIURL, "/"),
		url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo), url.QueryEscape(g.cfg.Branch))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errclass.ErrRemoteUnavailable.WithMessagef("build request: %v", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", errclass.ErrRemoteUnavailable.WithMessagef("get %s/%s@%s: %v", g.cfg.Owner, g.cfg.Repo, g.cfg.Branch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", errclass.ErrRemoteUnavailable.WithMessagef("get %s/%s@%s: HTTP %d", g.cfg.Owner, g.cfg.Repo, g.cfg.Branch, resp.StatusCode)
	}

	var commits []commitEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&commits); err != nil {
		return "", errclass.ErrRemoteUnavailable.WithMessagef("decode commits: %v", err)
	}
	if len(commits) == 0 || commits[0].SHA == "" {
		return "", errclass.ErrRemoteUnavailable.WithMessagef("branch %s has no commits", g.cfg.Branch)
	}
	return model.RevisionID(commits[0].SHA), nil
}
