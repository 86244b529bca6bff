package store

import (
	"context"
	"errors"
	"time"

	"github.com/JamieW105/Ro-link-sub000/internal/command"
)

// Status is the delivery state of a queued command. There are only two:
// pending rows are eligible for hand-off, delivered rows never come back.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
)

// Server is one live game-server process, keyed by its Roblox JobId.
// LastSeenAt is refreshed on every poll; a row past the staleness threshold
// is excluded from queries and eventually removed by the sweep.
type Server struct {
	JobID      string    `json:"job_id"`
	GuildID    string    `json:"guild_id"`
	Players    []string  `json:"players"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// CommandRecord is one durable row in the moderation command queue.
type CommandRecord struct {
	ID          int64        `json:"id"`
	GuildID     string       `json:"guild_id"`
	Kind        command.Kind `json:"kind"`
	Args        command.Args `json:"args"`
	TargetJobID string       `json:"target_job_id,omitempty"`
	Status      Status       `json:"status"`
	Moderator   string       `json:"moderator"`
	CreatedAt   time.Time    `json:"created_at"`
	DeliveredAt time.Time    `json:"delivered_at,omitzero"`
	DeliveredTo string       `json:"delivered_to,omitempty"`
}

// AuditEntry is one immutable audit-log row, appended alongside every
// command submission.
type AuditEntry struct {
	ID        int64     `json:"id"`
	GuildID   string    `json:"guild_id"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Moderator string    `json:"moderator"`
	Timestamp time.Time `json:"timestamp"`
}

var ErrNotFound = errors.New("not found")

// Store is the persistence boundary shared by the producer, the poll
// responder, and the presence sweep. All coordination between the bridge's
// actors happens through these rows; implementations must provide atomic
// conditional updates for ClaimPending and upsert-by-key for UpsertServer.
type Store interface {
	EnsureSchema(ctx context.Context) error

	// Presence registry.
	UpsertServer(ctx context.Context, s Server) error
	Server(ctx context.Context, jobID string) (Server, error)
	Servers(ctx context.Context, guildID string, seenSince time.Time) ([]Server, error)
	FindPlayer(ctx context.Context, guildID, username string, seenSince time.Time) ([]Server, error)
	DeleteStaleServers(ctx context.Context, olderThan time.Time) (int64, error)

	// Command queue. ClaimPending selects every pending row matching the
	// guild whose target job is unset or equals jobID, marks the whole set
	// delivered in one conditional update, and returns it oldest-first. A
	// row is never both returned and left pending, and never returned twice.
	InsertCommand(ctx context.Context, rec CommandRecord) (int64, error)
	// InsertCommandWithAudit writes the queue row and its audit entry in one
	// transaction: either both land or neither does, so a submission reported
	// as failed can never be delivered later.
	InsertCommandWithAudit(ctx context.Context, rec CommandRecord, e AuditEntry) (int64, error)
	CommandByID(ctx context.Context, id int64) (CommandRecord, error)
	ClaimPending(ctx context.Context, guildID, jobID string) ([]CommandRecord, error)

	// Audit log.
	AppendAudit(ctx context.Context, e AuditEntry) (int64, error)
	Audit(ctx context.Context, guildID string, limit int) ([]AuditEntry, error)

	Close() error
}
