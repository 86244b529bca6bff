// Package rolink bridges Discord-side moderation to an ephemeral fleet of
// Roblox game servers. Commands are durably queued and handed to exactly one
// poll response each, with a best-effort instant push running in parallel; a
// continuously expiring presence registry tracks which live server holds
// which player.
package rolink

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JamieW105/Ro-link-sub000/internal/audit"
	chsink "github.com/JamieW105/Ro-link-sub000/internal/audit/clickhouse"
	"github.com/JamieW105/Ro-link-sub000/internal/auth"
	"github.com/JamieW105/Ro-link-sub000/internal/command"
	cfg "github.com/JamieW105/Ro-link-sub000/internal/config"
	"github.com/JamieW105/Ro-link-sub000/internal/metrics"
	"github.com/JamieW105/Ro-link-sub000/internal/notify"
	"github.com/JamieW105/Ro-link-sub000/internal/poll"
	"github.com/JamieW105/Ro-link-sub000/internal/presence"
	"github.com/JamieW105/Ro-link-sub000/internal/producer"
	"github.com/JamieW105/Ro-link-sub000/internal/push"
	"github.com/JamieW105/Ro-link-sub000/internal/server"
	"github.com/JamieW105/Ro-link-sub000/internal/store"
	"github.com/JamieW105/Ro-link-sub000/internal/store/factory"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Kind = command.Kind

const (
	KindKick         = command.Kick
	KindBan          = command.Ban
	KindUnban        = command.Unban
	KindUpdate       = command.Update
	KindShutdown     = command.Shutdown
	KindFly          = command.Fly
	KindNoclip       = command.Noclip
	KindInvisible    = command.Invisible
	KindGhost        = command.Ghost
	KindSetCharacter = command.SetCharacter
	KindHeal         = command.Heal
	KindKill         = command.Kill
	KindReset        = command.Reset
	KindRefresh      = command.Refresh
)

type Args = command.Args

type Payload = command.Payload

type Server = store.Server

type AuditEntry = store.AuditEntry

type Config = cfg.FileConfig

type GuildConfig = cfg.GuildConfig

// ErrGuildNotConfigured is returned by Submit for a guild without a config
// block; commands are only accepted for set-up guilds.
var ErrGuildNotConfigured = errors.New("guild is not configured")

// Bridge wires the store, presence registry, producer, poll responder, and
// sweeper into one embeddable unit. It is the stable public API; the HTTP
// daemon in cmd/rolink is a thin shell around it.
type Bridge struct {
	config    cfg.FileConfig
	store     store.Store
	registry  *presence.Registry
	producer  *producer.Producer
	responder *poll.Responder
	sweeper   *presence.Sweeper
	sink      audit.Sink
	logger    *slog.Logger
}

// New assembles a Bridge from config. The store schema is ensured up front so
// a misconfigured DSN fails at startup, not on the first poll.
func New(ctx context.Context, fc cfg.FileConfig, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	st, err := factory.New(fc.Store)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := presence.NewRegistry(st, fc.StaleAfter)

	topics := make(map[string]push.Topic, len(fc.Guilds))
	webhooks := make(map[string]string, len(fc.Guilds))
	for _, g := range fc.Guilds {
		if g.UniverseID != "" && g.PushTopic != "" {
			topics[g.GuildID] = push.Topic{UniverseID: g.UniverseID, Topic: g.PushTopic, APIKey: g.PushAPIKey}
		}
		if g.WebhookURL != "" {
			webhooks[g.GuildID] = g.WebhookURL
		}
	}

	var sink audit.Sink = audit.Nop()
	if ae := fc.AuditExport; ae != nil && ae.Type == "clickhouse" {
		ch, err := chsink.New(ae.Addr, ae.Database, ae.Username, ae.Password, ae.Table)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		sink = ch
	}

	sweepInterval, err := presence.ParseEvery(fc.SweepSchedule)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	b := &Bridge{
		config:    fc,
		store:     st,
		registry:  registry,
		responder: poll.New(st, registry, logger),
		sweeper:   nil,
		sink:      sink,
		logger:    logger,
	}
	b.producer = producer.New(st, push.NewMessaging(topics, logger), sink, notify.New(webhooks, logger), logger)
	b.sweeper = presence.NewSweeper(registry, sweepInterval, logger)
	return b, nil
}

// Submit queues a moderation command for a guild and fires the instant push.
func (b *Bridge) Submit(ctx context.Context, guildID string, kind Kind, args Args, moderator string) (int64, error) {
	if _, ok := b.config.Guild(guildID); !ok {
		return 0, ErrGuildNotConfigured
	}
	return b.producer.Submit(ctx, guildID, kind, args, moderator)
}

// HandlePoll services one poll from a game server.
func (b *Bridge) HandlePoll(ctx context.Context, guildID, jobID string, players []string) ([]Payload, error) {
	return b.responder.HandlePoll(ctx, guildID, jobID, players)
}

// Servers lists the live (non-stale) game servers for a guild.
func (b *Bridge) Servers(ctx context.Context, guildID string) ([]Server, error) {
	return b.registry.Servers(ctx, guildID)
}

// Lookup lists the live servers currently holding a player.
func (b *Bridge) Lookup(ctx context.Context, guildID, username string) ([]Server, error) {
	return b.registry.Lookup(ctx, guildID, username)
}

// Audit returns recent audit entries for a guild.
func (b *Bridge) Audit(ctx context.Context, guildID string, limit int) ([]AuditEntry, error) {
	return b.store.Audit(ctx, guildID, limit)
}

// Sweep removes stale presence rows once. The daemon normally runs
// RunSweeper instead; this is for the one-shot CLI and tests.
func (b *Bridge) Sweep(ctx context.Context) (int64, error) {
	return b.registry.Sweep(ctx)
}

// RunSweeper blocks, pruning stale presence rows on the configured schedule
// until ctx is cancelled.
func (b *Bridge) RunSweeper(ctx context.Context) {
	b.sweeper.Run(ctx)
}

// Handler returns the bridge's HTTP surface, mountable in any server/mux.
func (b *Bridge) Handler() http.Handler {
	pollKeys := make(map[string]string, len(b.config.Guilds))
	for _, g := range b.config.Guilds {
		pollKeys[g.GuildID] = g.PollKey
	}
	mw := auth.New(b.config.APIKey, pollKeys)
	guildOK := func(guildID string) bool {
		_, ok := b.config.Guild(guildID)
		return ok
	}
	return server.NewRouter(b.producer, b.responder, b.registry, b.store, mw, guildOK, b.config.BasePath).Handler()
}

func (b *Bridge) Close() error {
	if c, ok := b.sink.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	return b.store.Close()
}
