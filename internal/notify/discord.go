package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/JamieW105/Ro-link-sub000/internal/command"
)

// Notifier announces moderation actions to a guild's Discord channel via an
// incoming webhook. Purely informational: failures are logged and swallowed,
// notifications are not part of the delivery guarantee.
type Notifier struct {
	webhooks map[string]string // guild id -> webhook URL
	client   *http.Client
	logger   *slog.Logger
}

func New(webhooks map[string]string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("component", "notify"),
	}
}

// SetHTTPClient overrides the HTTP client. Tests only.
func (n *Notifier) SetHTTPClient(c *http.Client) { n.client = c }

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookBody struct {
	Embeds []embed `json:"embeds"`
}

const embedColor = 0xE74C3C // red, matches the dashboard's moderation accent

// CommandSubmitted posts an embed describing a freshly queued action.
// Best-effort; the error is logged here, never returned.
func (n *Notifier) CommandSubmitted(ctx context.Context, guildID string, kind command.Kind, args command.Args, moderator string) {
	url, ok := n.webhooks[guildID]
	if !ok || url == "" {
		return
	}

	fields := []embedField{
		{Name: "Moderator", Value: orDash(moderator), Inline: true},
	}
	if args.Username != "" {
		fields = append(fields, embedField{Name: "Target", Value: args.Username, Inline: true})
	}
	if args.Reason != "" {
		fields = append(fields, embedField{Name: "Reason", Value: args.Reason})
	}
	if args.JobID != "" {
		fields = append(fields, embedField{Name: "Server", Value: args.JobID})
	}

	body, err := json.Marshal(webhookBody{Embeds: []embed{{
		Title:     fmt.Sprintf("Moderation: %s", strings.ToUpper(kind.String())),
		Color:     embedColor,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		n.logger.Warn("encode webhook embed", "guild", guildID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build webhook request", "guild", guildID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook post failed", "guild", guildID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook post rejected", "guild", guildID, "status", resp.StatusCode)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
