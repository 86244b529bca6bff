package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/JamieW105/Ro-link-sub000/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// Single connection: writers are serialized anyway, and this keeps the
	// pragma applied to every query.
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS servers(
			job_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			players TEXT NOT NULL,
			last_seen_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_servers_guild ON servers(guild_id);`,
		`CREATE TABLE IF NOT EXISTS commands(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			args TEXT NOT NULL,
			target_job_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			moderator TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			delivered_at TIMESTAMP NULL,
			delivered_to TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(guild_id, status);`,
		`CREATE TABLE IF NOT EXISTS audit_log(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL,
			moderator TEXT NOT NULL,
			ts TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_guild ON audit_log(guild_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) UpsertServer(ctx context.Context, sv store.Server) error {
	players, err := json.Marshal(sv.Players)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO servers(job_id, guild_id, players, last_seen_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			guild_id=excluded.guild_id,
			players=excluded.players,
			last_seen_at=excluded.last_seen_at;`,
		sv.JobID, sv.GuildID, string(players), sv.LastSeenAt.UTC())
	return err
}

func (s *DB) Server(ctx context.Context, jobID string) (store.Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, guild_id, players, last_seen_at
		FROM servers WHERE job_id=?;`, jobID)
	return scanServer(row)
}

func (s *DB) Servers(ctx context.Context, guildID string, seenSince time.Time) ([]store.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, guild_id, players, last_seen_at
		FROM servers
		WHERE guild_id=? AND last_seen_at >= ?
		ORDER BY last_seen_at DESC;`, guildID, seenSince.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanServers(rows)
}

// FindPlayer filters on the JSON player list in Go rather than SQL so both
// backends behave identically regardless of JSON support in the engine.
func (s *DB) FindPlayer(ctx context.Context, guildID, username string, seenSince time.Time) ([]store.Server, error) {
	all, err := s.Servers(ctx, guildID, seenSince)
	if err != nil {
		return nil, err
	}
	return store.FilterByPlayer(all, username), nil
}

func (s *DB) DeleteStaleServers(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE last_seen_at < ?;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *DB) InsertCommand(ctx context.Context, rec store.CommandRecord) (int64, error) {
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
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commands(guild_id, kind, args, target_job_id, status, moderator, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		rec.GuildID, string(rec.Kind), string(args), rec.TargetJobID,
		string(rec.Status), rec.Moderator, rec.CreatedAt.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) InsertCommandWithAudit(ctx context.Context, rec store.CommandRecord, e store.AuditEntry) (int64, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO commands(guild_id, kind, args, target_job_id, status, moderator, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		rec.GuildID, string(rec.Kind), string(args), rec.TargetJobID,
		string(rec.Status), rec.Moderator, rec.CreatedAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log(guild_id, action, target, moderator, ts)
		VALUES(?, ?, ?, ?, ?);`,
		e.GuildID, e.Action, e.Target, e.Moderator, e.Timestamp.UTC()); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *DB) CommandByID(ctx context.Context, id int64) (store.CommandRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, kind, args, target_job_id, status, moderator, created_at, delivered_at, delivered_to
		FROM commands WHERE id=?;`, id)
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

// ClaimPending flips every matching pending row to delivered and returns the
// claimed set in one statement. SQLite serializes writers, so two concurrent
// polls cannot both claim the same row: whichever UPDATE runs first wins and
// the loser's WHERE no longer matches.
func (s *DB) ClaimPending(ctx context.Context, guildID, jobID string) ([]store.CommandRecord, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE commands
		SET status=?, delivered_at=?, delivered_to=?
		WHERE guild_id=? AND status=? AND (target_job_id='' OR target_job_id=?)
		RETURNING id, guild_id, kind, args, target_job_id, status, moderator, created_at, delivered_at, delivered_to;`,
		string(store.StatusDelivered), now, jobID,
		guildID, string(store.StatusPending), jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	recs, err := scanCommands(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING order is unspecified; callers rely on creation order.
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

func (s *DB) AppendAudit(ctx context.Context, e store.AuditEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log(guild_id, action, target, moderator, ts)
		VALUES(?, ?, ?, ?, ?);`,
		e.GuildID, e.Action, e.Target, e.Moderator, e.Timestamp.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) Audit(ctx context.Context, guildID string, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, action, target, moderator, ts
		FROM audit_log
		WHERE guild_id=?
		ORDER BY id DESC
		LIMIT ?;`, guildID, limit)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (store.Server, error) {
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

func scanServers(rows *sql.Rows) ([]store.Server, error) {
	out := make([]store.Server, 0)
	for rows.Next() {
		sv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func scanCommands(rows *sql.Rows) ([]store.CommandRecord, error) {
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
	return out, rows.Err()
}
