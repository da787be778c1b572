// Package deploy provides the client for the downstream rule-evaluation
// runtime. The core only tells it that a fact type's rule set changed;
// packaging and container mechanics live on the other side of this call.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the maximum time to wait for the runtime to acknowledge
// a deployment.
const DefaultTimeout = 30 * time.Second

// Notification describes the rule set being published.
type Notification struct {
	FactType   string  `json:"fact_type"`
	Version    int64   `json:"version"`
	RulesCount int     `json:"rules_count"`
	RulesHash  string  `json:"rules_hash"`
	RuleIDs    []int64 `json:"rule_ids"`
}

// Notifier publishes a fact type's active rule set to the evaluation
// runtime. Implementations must treat the call as best-effort propagation;
// the rule store remains the source of truth either way.
type Notifier interface {
	Deploy(ctx context.Context, notification Notification) error
}

// Client is an HTTP Notifier for the rule runtime's deploy endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Notifier that POSTs to {baseURL}/deploy/{factType}.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("deploy"),
	}
}

var _ Notifier = (*Client)(nil)

// Deploy notifies the runtime that the fact type's rule set changed.
func (c *Client) Deploy(ctx context.Context, notification Notification) error {
	endpoint, err := buildURL(c.baseURL, "deploy", notification.FactType)
	if err != nil {
		return fmt.Errorf("failed to build URL: %w", err)
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Info("Publishing rule set to runtime",
		zap.String("url", endpoint),
		zap.String("fact_type", notification.FactType),
		zap.Int64("version", notification.Version),
		zap.Int("rules_count", notification.RulesCount))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call rule runtime: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Rule runtime returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)))
		return fmt.Errorf("rule runtime returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// buildURL joins the base URL with path segments, escaping each segment.
func buildURL(baseURL string, segments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	return u.JoinPath(segments...).String(), nil
}

// Noop is a Notifier that only logs. Used when no runtime is configured.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a Noop notifier.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger.Named("deploy")}
}

var _ Notifier = (*Noop)(nil)

// Deploy logs the notification and succeeds.
func (n *Noop) Deploy(_ context.Context, notification Notification) error {
	n.logger.Info("Deployment notifier disabled; skipping publish",
		zap.String("fact_type", notification.FactType),
		zap.Int64("version", notification.Version))
	return nil
}
