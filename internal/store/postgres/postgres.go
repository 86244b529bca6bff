package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JamieW105/Ro-link-sub000/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS servers(
			job_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			players TEXT NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_servers_guild ON servers(guild_id);`,
		`CREATE TABLE IF NOT EXISTS commands(
			id BIGSERIAL PRIMARY KEY,
			guild_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			args TEXT NOT NULL,
			target_job_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			moderator TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			delivered_at TIMESTAMPTZ NULL,
			delivered_to TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(guild_id, status);`,
		`CREATE TABLE IF NOT EXISTS audit_log(
			id BIGSERIAL PRIMARY KEY,
			guild_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL,
			moderator TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_guild ON audit_log(guild_id);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) UpsertServer(ctx context.Context, sv store.Server) error {
	players, err := json.Marshal(sv.Players)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO servers(job_id, guild_id, players, last_seen_at)
		VALUES($1,$2,$3,$4)
		ON CONFLICT(job_id) DO UPDATE SET
			guild_id=EXCLUDED.guild_id,
			players=EXCLUDED.players,
			last_seen_at=EXCLUDED.last_seen_at;`,
		sv.JobID, sv.GuildID, string(players), sv.LastSeenAt.UTC())
	return err
}

func (p *DB) Server(ctx context.Context, jobID string) (store.Server, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT job_id, guild_id, players, last_seen_at
		FROM servers WHERE job_id=$1;`, jobID)
	var sv store.Server
	var players string
	err := row.Scan(&sv.JobID, &sv.GuildID, &players, &sv.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Server{}, store.ErrNotFound
	}
	if err != nil {
		return store.Server{}, err
	}
	if err := json.Unmarshal([]byte(players), &sv.Players); err != nil {
		return store.Server{}, err
	}
	return sv, nil
}

func (p *DB) Servers(ctx context.Context, guildID string, seenSince time.Time) ([]store.Server, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT job_id, guild_id, players, last_seen_at
		FROM servers
		WHERE guild_id=$1 AND last_seen_at >= $2
		ORDER BY last_seen_at DESC;`, guildID, seenSince.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Server, 0)
	for rows.Next() {
		var sv store.Server
		var players string
		if err := rows.Scan(&sv.JobID, &sv.GuildID, &players, &sv.LastSeenAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(players), &sv.Players); err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func (p *DB) FindPlayer(ctx context.Context, guildID, username string, seenSince time.Time) ([]store.Server, error) {
	all, err := p.Servers(ctx, guildID, seenSince)
	if err != nil {
		return nil, err
	}
	return store.FilterByPlayer(all, username), nil
}

func (p *DB) DeleteStaleServers(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM servers WHERE last_seen_at < $1;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *DB) InsertCommand(ctx context.Context, rec store.CommandRecord) (int64, error) {
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return 0, err
	}
	if rec.Status == "" {
		rec.Status = store.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var id int64
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO commands(guild_id, kind, args, target_job_id, status, moderator, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		RETURNING id;`,
		rec.GuildID, string(rec.Kind), string(args), rec.TargetJobID,
		string(rec.Status), rec.Moderator, rec.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (p *DB) InsertCommandWithAudit(ctx context.Context, rec store.CommandRecord, e store.AuditEntry) (int64, error) {
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return 0, err
	}
	if rec.Status == "" {
		rec.Status = store.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = rec.CreatedAt
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO commands(guild_id, kind, args, target_job_id, status, moderator, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		RETURNING id;`,
		rec.GuildID, string(rec.Kind), string(args), rec.TargetJobID,
		string(rec.Status), rec.Moderator, rec.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log(guild_id, action, target, moderator, ts)
		VALUES($1,$2,$3,$4,$5);`,
		e.GuildID, e.Action, e.Target, e.Moderator, e.Timestamp.UTC()); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (p *DB) CommandByID(ctx context.Context, id int64) (store.CommandRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, guild_id, kind, args, target_job_id, status, moderator, created_at, delivered_at, delivered_to
		FROM commands WHERE id=$1;`, id)
	var rec store.CommandRecord
	var argsJSON string
	var deliveredAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.GuildID, &rec.Kind, &argsJSON, &rec.TargetJobID,
		&rec.Status, &rec.Moderator, &rec.CreatedAt, &deliveredAt, &rec.DeliveredTo)
	if errors.Is(err, sql.ErrNoRows) {
		return store.CommandRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.CommandRecord{}, err
	}
	if deliveredAt.Valid {
		rec.DeliveredAt = deliveredAt.Time
	}
	if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
		return store.CommandRecord{}, err
	}
	return rec, nil
}

// ClaimPending marks and returns matching pending rows in a single statement.
// The inner SELECT takes row locks with SKIP LOCKED so two concurrent polls
// partition the pending set instead of blocking or double-claiming.
func (p *DB) ClaimPending(ctx context.Context, guildID, jobID string) ([]store.CommandRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE commands
		SET status=$1, delivered_at=$2, delivered_to=$3
		WHERE id IN (
			SELECT id FROM commands
			WHERE guild_id=$4 AND status=$5 AND (target_job_id='' OR target_job_id=$3)
			ORDER BY id
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, guild_id, kind, args, target_job_id, status, moderator, created_at, delivered_at, delivered_to;`,
		string(store.StatusDelivered), time.Now().UTC(), jobID,
		guildID, string(store.StatusPending))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.CommandRecord, 0)
	for rows.Next() {
		var rec store.CommandRecord
		var argsJSON string
		var deliveredAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.GuildID, &rec.Kind, &argsJSON, &rec.TargetJobID,
			&rec.Status, &rec.Moderator, &rec.CreatedAt, &deliveredAt, &rec.DeliveredTo); err != nil {
			return nil, err
		}
		if deliveredAt.Valid {
			rec.DeliveredAt = deliveredAt.Time
		}
		if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not promise the inner SELECT's order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *DB) AppendAudit(ctx context.Context, e store.AuditEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO audit_log(guild_id, action, target, moderator, ts)
		VALUES($1,$2,$3,$4,$5)
		RETURNING id;`,
		e.GuildID, e.Action, e.Target, e.Moderator, e.Timestamp.UTC()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (p *DB) Audit(ctx context.Context, guildID string, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, guild_id, action, target, moderator, ts
		FROM audit_log
		WHERE guild_id=$1
		ORDER BY id DESC
		LIMIT $2;`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.AuditEntry, 0)
	for rows.Next() {
		var e store.AuditEntry
		if err := rows.Scan(&e.ID, &e.GuildID, &e.Action, &e.Target, &e.Moderator, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
