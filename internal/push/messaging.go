package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/JamieW105/Ro-link-sub000/internal/command"
)

// Topic is one guild's broadcast channel: a Roblox Open Cloud
// MessagingService topic inside the guild's universe. Game servers subscribe
// to the topic from their own runtime; anything published while a server is
// not subscribed is lost, which is acceptable here.
type Topic struct {
	UniverseID string
	Topic      string
	APIKey     string
}

const defaultBaseURL = "https://apis.roblox.com"

// Messaging publishes command payloads over the Open Cloud messaging API.
type Messaging struct {
	topics  map[string]Topic // guild id -> topic
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type MessagingOption func(*Messaging)

// WithBaseURL overrides the Open Cloud endpoint. Tests point this at httptest.
func WithBaseURL(u string) MessagingOption {
	return func(m *Messaging) { m.baseURL = u }
}

func WithHTTPClient(c *http.Client) MessagingOption {
	return func(m *Messaging) { m.client = c }
}

func NewMessaging(topics map[string]Topic, logger *slog.Logger, opts ...MessagingOption) *Messaging {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Messaging{
		topics:  topics,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "push"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// envelope is the topic message body. The id lets logs on both sides of the
// channel be correlated; subscribers ignore it.
type envelope struct {
	ID      string       `json:"id"`
	Command string       `json:"command"`
	Args    command.Args `json:"args"`
}

func (m *Messaging) Publish(ctx context.Context, guildID string, p command.Payload) error {
	t, ok := m.topics[guildID]
	if !ok || t.UniverseID == "" || t.Topic == "" {
		// Guild has no push channel set up; the poll path still delivers.
		return nil
	}

	msg, err := json.Marshal(envelope{ID: uuid.NewString(), Command: p.Command, Args: p.Args})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}
	body, err := json.Marshal(map[string]string{"message": string(msg)})
	if err != nil {
		return fmt.Errorf("encode push body: %w", err)
	}

	url := fmt.Sprintf("%s/messaging-service/v1/universes/%s/topics/%s", m.baseURL, t.UniverseID, t.Topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish to topic %s: %w", t.Topic, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish to topic %s: unexpected status %d", t.Topic, resp.StatusCode)
	}
	return nil
}
