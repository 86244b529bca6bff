package poll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JamieW105/Ro-link-sub000/internal/command"
	"github.com/JamieW105/Ro-link-sub000/internal/metrics"
	"github.com/JamieW105/Ro-link-sub000/internal/presence"
	"github.com/JamieW105/Ro-link-sub000/internal/store"
)

// Responder services the periodic pull from each game server. A poll does two
// things: it refreshes the server's presence row (its only liveness signal),
// and it drains the pending commands the server is eligible for.
type Responder struct {
	store    store.Store
	registry *presence.Registry
	logger   *slog.Logger
}

func New(s store.Store, r *presence.Registry, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{store: s, registry: r, logger: logger.With("component", "poll")}
}

// HandlePoll processes one poll from jobID. The returned payloads are in
// creation order. Rows are flipped to delivered by the same conditional
// update that selects them, so a concurrent poll (same job or another job
// eligible for a broadcast row) can never receive the same command: a row is
// handed to exactly one poll response.
//
// The presence upsert is best-effort; its failure is logged and command
// selection still runs. The reverse trade is never made: if the claim fails,
// nothing is returned and the rows stay pending for a later poll.
func (r *Responder) HandlePoll(ctx context.Context, guildID, jobID string, players []string) ([]command.Payload, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id required")
	}
	metrics.IncPoll(guildID)

	if err := r.registry.Heartbeat(ctx, guildID, jobID, players); err != nil {
		r.logger.Warn("heartbeat upsert failed", "guild", guildID, "job", jobID, "error", err)
	}

	recs, err := r.store.ClaimPending(ctx, guildID, jobID)
	if err != nil {
		return nil, fmt.Errorf("claim pending commands: %w", err)
	}

	out := make([]command.Payload, 0, len(recs))
	for _, rec := range recs {
		metrics.IncDelivered(guildID, rec.Kind.String())
		out = append(out, command.Payload{Command: rec.Kind.String(), Args: rec.Args})
	}
	if len(out) > 0 {
		r.logger.Info("commands delivered", "guild", guildID, "job", jobID, "count", len(out))
	}
	return out, nil
}
