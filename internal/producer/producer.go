package producer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JamieW105/Ro-link-sub000/internal/audit"
	"github.com/JamieW105/Ro-link-sub000/internal/command"
	"github.com/JamieW105/Ro-link-sub000/internal/metrics"
	"github.com/JamieW105/Ro-link-sub000/internal/notify"
	"github.com/JamieW105/Ro-link-sub000/internal/push"
	"github.com/JamieW105/Ro-link-sub000/internal/store"
)

// Producer is the entry point for moderation actions coming from the
// dashboard and the bot. Every submission makes two independent delivery
// attempts for the same logical command: a durable queue row (picked up by
// the target server's next poll) and an instant push on the guild's broadcast
// topic. The queue row is the source of truth; the push is a latency
// optimization with no durability, so only durable-write failures are
// reported to the caller.
type Producer struct {
	store     store.Store
	publisher push.Publisher
	sink      audit.Sink
	notifier  *notify.Notifier
	logger    *slog.Logger
}

func New(s store.Store, pub push.Publisher, sink audit.Sink, notifier *notify.Notifier, logger *slog.Logger) *Producer {
	if pub == nil {
		pub = push.Nop()
	}
	if sink == nil {
		sink = audit.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		store:     s,
		publisher: pub,
		sink:      sink,
		notifier:  notifier,
		logger:    logger.With("component", "producer"),
	}
}

// Submit validates and enqueues one command, firing the push in parallel.
// Returns the queued command's id. Duplicate submissions of the same logical
// action create independent rows; dedup is the caller's concern.
func (p *Producer) Submit(ctx context.Context, guildID string, kind command.Kind, args command.Args, moderator string) (int64, error) {
	if guildID == "" {
		return 0, fmt.Errorf("guild id required")
	}
	if err := command.Validate(kind, args); err != nil {
		return 0, err
	}

	payload := command.Payload{Command: kind.String(), Args: args}

	// The push goes out regardless of how the durable writes fare; both
	// paths are attempted for every submission.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.publisher.Publish(ctx, guildID, payload); err != nil {
			metrics.IncPush(guildID, "error")
			p.logger.Warn("instant push failed, poll path will deliver",
				"guild", guildID, "kind", kind.String(), "error", err)
			return
		}
		metrics.IncPush(guildID, "ok")
	}()

	entry := store.AuditEntry{
		GuildID:   guildID,
		Action:    kind.String(),
		Target:    args.Username,
		Moderator: moderator,
	}
	// One transaction: a submission whose audit append fails leaves no queue
	// row behind, so a reported failure is never delivered later.
	id, insertErr := p.store.InsertCommandWithAudit(ctx, store.CommandRecord{
		GuildID:     guildID,
		Kind:        kind,
		Args:        args,
		TargetJobID: args.JobID,
		Status:      store.StatusPending,
		Moderator:   moderator,
	}, entry)

	wg.Wait()

	if insertErr != nil {
		return 0, fmt.Errorf("queue command: %w", insertErr)
	}
	if err := p.sink.Send(ctx, entry); err != nil {
		p.logger.Warn("audit export failed", "guild", guildID, "error", err)
	}

	metrics.IncQueued(guildID, kind.String())
	p.logger.Info("command queued",
		"guild", guildID, "kind", kind.String(), "target", args.Username, "id", id)

	if p.notifier != nil {
		go p.notifier.CommandSubmitted(context.WithoutCancel(ctx), guildID, kind, args, moderator)
	}
	return id, nil
}
