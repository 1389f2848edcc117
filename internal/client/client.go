// Package client provides a Go client for the platform's admin REST API.
// The console uses it to seed the pending hand-off queue at startup.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client provides HTTP methods for the admin support API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithToken sets the bearer credential attached to every request.
func WithToken(token string) Option {
	return func(client *Client) {
		client.token = token
	}
}

// New creates a new admin API client.
// baseURL should be the platform address (e.g., "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PendingRequest is one waiting hand-off request.
type PendingRequest struct {
	SessionID string `json:"sessionId"`
	Nickname  string `json:"nickname"`
}

// PendingRequests returns the hand-off requests waiting for an agent.
// The request is aborted when ctx is cancelled.
func (c *Client) PendingRequests(ctx context.Context) ([]PendingRequest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/admin/support/pending", nil)
	if err != nil {
		return nil, fmt.Errorf("pending requests: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pending requests: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pending requests: status %d: %s", resp.StatusCode, string(body))
	}

	var pending []PendingRequest
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		return nil, fmt.Errorf("pending requests: decode: %w", err)
	}
	return pending, nil
}
