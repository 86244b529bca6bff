package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/JamieW105/Ro-link-sub000/internal/store"
)

// DefaultStaleAfter is how long a server may go without polling before it is
// treated as gone. Game servers poll every few seconds; five minutes of
// silence means the process was recycled.
const DefaultStaleAfter = 5 * time.Minute

// Registry is the single place presence is read or written. Every consumer
// goes through it so the staleness cutoff is applied consistently instead of
// being re-derived per query site.
type Registry struct {
	store      store.Store
	staleAfter time.Duration
	now        func() time.Time
}

func NewRegistry(s store.Store, staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Registry{store: s, staleAfter: staleAfter, now: time.Now}
}

// SetClock overrides the registry's clock. Tests only.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// StaleAfter returns the configured staleness threshold.
func (r *Registry) StaleAfter() time.Duration { return r.staleAfter }

func (r *Registry) cutoff() time.Time { return r.now().UTC().Add(-r.staleAfter) }

// Heartbeat creates or refreshes the row for jobID with the supplied player
// list and the current time. Called on every poll, whether or not any
// commands are pending: a missing heartbeat is the only signal a server died.
func (r *Registry) Heartbeat(ctx context.Context, guildID, jobID string, players []string) error {
	if players == nil {
		players = []string{}
	}
	err := r.store.UpsertServer(ctx, store.Server{
		JobID:      jobID,
		GuildID:    guildID,
		Players:    players,
		LastSeenAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("presence heartbeat for %s: %w", jobID, err)
	}
	return nil
}

// Servers returns every live (non-stale) server for a guild.
func (r *Registry) Servers(ctx context.Context, guildID string) ([]store.Server, error) {
	return r.store.Servers(ctx, guildID, r.cutoff())
}

// Lookup returns the live servers currently holding the named player.
func (r *Registry) Lookup(ctx context.Context, guildID, username string) ([]store.Server, error) {
	return r.store.FindPlayer(ctx, guildID, username, r.cutoff())
}

// Sweep deletes every row whose heartbeat is older than the staleness
// threshold and returns how many were removed.
func (r *Registry) Sweep(ctx context.Context) (int64, error) {
	return r.store.DeleteStaleServers(ctx, r.cutoff())
}
