// Package webhook delivers operational alerts about node updates over HTTP.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nammalakes/nodeup/pkg/logging"
	"github.com/nammalakes/nodeup/pkg/model"
)

// EventType represents the type of update event that can trigger webhooks.
type EventType string

const (
	EventUpdateCompleted      EventType = "update.completed"
	EventUpdateRolledBack     EventType = "update.rolled_back"
	EventUpdateRollbackFailed EventType = "update.rollback_failed"
	EventUpdateBackupFailed   EventType = "update.backup_failed"
)

// Event is the JSON payload sent to webhooks.
type Event struct {
	Event          EventType      `json:"event"`
	Timestamp      string         `json:"timestamp"`
	NodeID         string         `json:"node_id"`
	Outcome        model.Outcome  `json:"outcome,omitempty"`
	Detail         string         `json:"detail,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	LocalRevision  string         `json:"local_revision,omitempty"`
	RemoteRevision string         `json:"remote_revision,omitempty"`
	Critical       bool           `json:"critical,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// HookConfig represents a single webhook endpoint.
type HookConfig struct {
	URL     string        `json:"url" yaml:"url"`
	Secret  string        `json:"secret,omitempty" yaml:"secret,omitempty"`
	Events  []EventType   `json:"events" yaml:"events"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Enabled bool          `json:"enabled" yaml:"enabled"`
}

// Config represents the webhook configuration.
type Config struct {
	Hooks          []HookConfig  `json:"hooks" yaml:"hooks"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay"`
	AsyncQueueSize int           `json:"async_queue_size" yaml:"async_queue_size"`
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		AsyncQueueSize: 100,
	}
}

// Client handles sending webhook notifications.
type Client struct {
	config *Config
	http   *http.Client
	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	mu     sync.RWMutex
	closed bool
	log    *logging.Logger
}

type job struct {
	event Event
	hook  HookConfig
}

// NewClient creates a new webhook client.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.AsyncQueueSize <= 0 {
		cfg.AsyncQueueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		queue:  make(chan *job, cfg.AsyncQueueSize),
		ctx:    ctx,
		cancel: cancel,
		log:    logging.WithFields(map[string]any{"component": "webhook"}),
	}

	if cfg.Enabled {
		c.start()
	}

	return c
}

func (c *Client) start() {
	c.once.Do(func() {
		c.wg.Add(1)
		go c.worker()
	})
}

func (c *Client) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			// Drain remaining jobs
			for {
				select {
				case j := <-c.queue:
					c.send(j)
				default:
					return
				}
			}
		case j := <-c.queue:
			c.send(j)
		}
	}
}

// Send sends an event to all matching webhooks.
// If async is true, the event is queued for background sending.
func (c *Client) Send(event Event, async bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.config.Enabled || c.closed {
		return nil
	}

	var hooks []HookConfig
	for _, hook := range c.config.Hooks {
		if hook.Enabled && matchesEvent(hook, event.Event) {
			hooks = append(hooks, hook)
		}
	}
	if len(hooks) == 0 {
		return nil
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if async {
		for _, hook := range hooks {
			select {
			case c.queue <- &job{event: event, hook: hook}:
			default:
				c.log.Warn("webhook queue full, dropping event", map[string]any{
					"event": string(event.Event), "node": event.NodeID,
				})
			}
		}
		return nil
	}

	var lastErr error
	for _, hook := range hooks {
		if err := c.sendSync(&job{event: event, hook: hook}); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) send(j *job) {
	if err := c.sendSync(j); err != nil {
		c.log.ErrorErr("webhook delivery failed", err, map[string]any{
			"event": string(j.event.Event), "url": j.hook.URL,
		})
	}
}

// sendSync sends a webhook synchronously with retries. Retries stop early
// once the client is closed, but the in-progress attempt completes.
func (c *Client) sendSync(j *job) error {
	payload, err := canonicalJSON(j.event)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return lastErr
			case <-time.After(c.config.RetryDelay):
			}
		}

		if lastErr = c.post(j.hook, payload); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) post(hook HookConfig, payload []byte) error {
	ctx := context.Background()
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nodeup-webhook/1.0")
	if hook.Secret != "" {
		req.Header.Set("X-Nodeup-Signature", Sign(payload, hook.Secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
}

// Sign creates the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matchesEvent(hook HookConfig, event EventType) bool {
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// Close stops accepting events and waits for queued deliveries to finish.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed || !c.config.Enabled {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

// NotifyResult maps an update result to its alert event, if any, and sends it
// asynchronously. Results that need no alert are ignored.
func (c *Client) NotifyResult(res model.UpdateResult) {
	if c == nil {
		return
	}
	var ev EventType
	switch {
	case res.Critical:
		ev = EventUpdateRollbackFailed
	case res.RolledBack:
		ev = EventUpdateRolledBack
	case res.Outcome == model.OutcomeUpdated:
		ev = EventUpdateCompleted
	case res.Outcome == model.OutcomeFailed && res.Detail == model.DetailBackupFailed:
		ev = EventUpdateBackupFailed
	default:
		return
	}
	c.Send(Event{
		Event:          ev,
		NodeID:         res.NodeID,
		Outcome:        res.Outcome,
		Detail:         res.Detail,
		Reason:         res.Reason,
		LocalRevision:  string(res.LocalRevision),
		RemoteRevision: string(res.RemoteRevision),
		Critical:       res.Critical,
	}, true)
}
