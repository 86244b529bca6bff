package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Client talks to a rolink daemon on behalf of a dashboard or bot front end.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new rolink API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}
}

// Submit queues a moderation command. Success means the command is durably
// enqueued, not that any game server has applied it yet.
func (c *Client) Submit(ctx context.Context, req CommandRequest) (int64, error) {
	var resp CommandResponse
	if err := c.post(ctx, "/commands", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// Servers returns the live game servers for a guild.
func (c *Client) Servers(ctx context.Context, guildID string) ([]Server, error) {
	var out []Server
	q := url.Values{"guild_id": {guildID}}
	if err := c.get(ctx, "/servers", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup returns the live servers currently holding a player.
func (c *Client) Lookup(ctx context.Context, guildID, username string) ([]Server, error) {
	var out []Server
	q := url.Values{"guild_id": {guildID}, "username": {username}}
	if err := c.get(ctx, "/lookup", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Audit returns the most recent audit entries for a guild.
func (c *Client) Audit(ctx context.Context, guildID string, limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	q := url.Values{"guild_id": {guildID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := c.get(ctx, "/audit", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, er.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
