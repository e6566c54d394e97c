// Package agent is the HTTP bridge to the external agent service that
// fetches platform notifications and generates replies. The queue core
// only sees it through the poller's Source and Responder interfaces.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"mention_bot/internal/model"
	"mention_bot/internal/poller"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the agent service.
type Client struct {
	baseURL string
	client  HTTPClient
	timeout time.Duration
}

// New creates a Client for the agent service at baseURL.
func New(baseURL string, client HTTPClient) *Client {
	return &Client{
		baseURL: baseURL,
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Fetch returns notifications indexed after since. An empty since asks
// for everything the service has retained.
func (c *Client) Fetch(ctx context.Context, since string) ([]model.Notification, error) {
	u := c.baseURL + "/notifications"
	if since != "" {
		u += "?since=" + url.QueryEscape(since)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var notifs []model.Notification
	if err := json.Unmarshal(body, &notifs); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return notifs, nil
}

type respondResult struct {
	Outcome string `json:"outcome"`
}

// Respond asks the agent service to handle one notification and maps
// its decision onto a poller outcome.
func (c *Client) Respond(ctx context.Context, n *model.Notification) (poller.Outcome, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/respond", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result respondResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	switch result.Outcome {
	case "replied":
		return poller.OutcomeReplied, nil
	case "no_reply":
		return poller.OutcomeNoReply, nil
	case "ignored":
		return poller.OutcomeIgnored, nil
	default:
		return 0, fmt.Errorf("unknown outcome %q", result.Outcome)
	}
}

// Interface checks.
var (
	_ poller.Source    = (*Client)(nil)
	_ poller.Responder = (*Client)(nil)
)
