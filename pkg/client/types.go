package client

// CommandRequest is the body for submitting a moderation command.
type CommandRequest struct {
	GuildID   string `json:"guild_id"`
	Command   string `json:"command"`
	Args      Args   `json:"args"`
	Moderator string `json:"moderator"`
}

// Args mirrors the bridge's command argument payload.
type Args struct {
	Username  string `json:"username,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Character string `json:"character,omitempty"`
	JobID     string `json:"jobId,omitempty"`
}

// CommandResponse carries the id of the durably queued command.
type CommandResponse struct {
	ID int64 `json:"id"`
}

// Server is one live game server as reported by the presence registry.
type Server struct {
	JobID      string   `json:"job_id"`
	GuildID    string   `json:"guild_id"`
	Players    []string `json:"players"`
	LastSeenAt string   `json:"last_seen_at"`
}

// AuditEntry is one audit-log row.
type AuditEntry struct {
	ID        int64  `json:"id"`
	GuildID   string `json:"guild_id"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	Moderator string `json:"moderator"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}
