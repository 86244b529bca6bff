package push

import (
	"context"

	"github.com/JamieW105/Ro-link-sub000/internal/command"
)

// Publisher broadcasts a command to every game server currently subscribed to
// a guild's topic. Fire-and-forget: no acknowledgment, no retry, no
// persistence. A server that is offline when the message goes out never sees
// it; the durable queue is the delivery backstop.
type Publisher interface {
	Publish(ctx context.Context, guildID string, p command.Payload) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, command.Payload) error { return nil }

// Nop returns a publisher that drops everything. Used for guilds without a
// configured push channel and in tests.
func Nop() Publisher { return nopPublisher{} }

// Func adapts a function to the Publisher interface.
type Func func(ctx context.Context, guildID string, p command.Payload) error

func (f Func) Publish(ctx context.Context, guildID string, p command.Payload) error {
	if f == nil {
		return nil
	}
	return f(ctx, guildID, p)
}
