package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/JamieW105/Ro-link-sub000/internal/command"
	"github.com/JamieW105/Ro-link-sub000/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestServerUpsertAndQueries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sv := store.Server{JobID: "J1", GuildID: "G1", Players: []string{"Alice", "Bob"}, LastSeenAt: now}
	if err := db.UpsertServer(ctx, sv); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Overwrite with a new player list
	sv.Players = []string{"Carl"}
	sv.LastSeenAt = now.Add(time.Minute)
	if err := db.UpsertServer(ctx, sv); err != nil {
		t.Fatalf("upsert overwrite: %v", err)
	}

	got, err := db.Server(ctx, "J1")
	if err != nil {
		t.Fatalf("get server: %v", err)
	}
	if len(got.Players) != 1 || got.Players[0] != "Carl" {
		t.Fatalf("unexpected players: %v", got.Players)
	}

	servers, err := db.Servers(ctx, "G1", now)
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	// Cutoff after the heartbeat excludes the row
	servers, err = db.Servers(ctx, "G1", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("servers cutoff: %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("expected 0 servers past cutoff, got %d", len(servers))
	}

	found, err := db.FindPlayer(ctx, "G1", "carl", now)
	if err != nil {
		t.Fatalf("find player: %v", err)
	}
	if len(found) != 1 || found[0].JobID != "J1" {
		t.Fatalf("lookup carl: %+v", found)
	}

	if _, err := db.Server(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteStaleServers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := store.Server{JobID: "fresh", GuildID: "G1", Players: []string{}, LastSeenAt: now.Add(-4 * time.Minute)}
	stale := store.Server{JobID: "stale", GuildID: "G1", Players: []string{}, LastSeenAt: now.Add(-6 * time.Minute)}
	for _, sv := range []store.Server{fresh, stale} {
		if err := db.UpsertServer(ctx, sv); err != nil {
			t.Fatalf("upsert %s: %v", sv.JobID, err)
		}
	}

	n, err := db.DeleteStaleServers(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("delete stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if _, err := db.Server(ctx, "stale"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stale row should be gone, got %v", err)
	}
	if _, err := db.Server(ctx, "fresh"); err != nil {
		t.Fatalf("fresh row should remain: %v", err)
	}
}

func TestClaimPendingMarksAndOrders(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.InsertCommand(ctx, store.CommandRecord{
		GuildID: "G1", Kind: command.Kick, Args: command.Args{Username: "Alice"},
	})
	if err != nil {
		t.Fatalf("insert kick: %v", err)
	}
	second, err := db.InsertCommand(ctx, store.CommandRecord{
		GuildID: "G1", Kind: command.Ban, Args: command.Args{Username: "Alice"},
	})
	if err != nil {
		t.Fatalf("insert ban: %v", err)
	}
	if second <= first {
		t.Fatalf("ids must be creation-ordered: %d <= %d", second, first)
	}

	recs, err := db.ClaimPending(ctx, "G1", "J1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 claimed, got %d", len(recs))
	}
	if recs[0].Kind != command.Kick || recs[1].Kind != command.Ban {
		t.Fatalf("claim order wrong: %s, %s", recs[0].Kind, recs[1].Kind)
	}
	for _, rec := range recs {
		if rec.Status != store.StatusDelivered {
			t.Fatalf("claimed row still %s", rec.Status)
		}
		if rec.DeliveredTo != "J1" {
			t.Fatalf("delivered_to = %q", rec.DeliveredTo)
		}
		if rec.DeliveredAt.IsZero() {
			t.Fatalf("delivered_at not set")
		}
	}

	// A second claim finds nothing.
	recs, err = db.ClaimPending(ctx, "G1", "J1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("delivered rows re-claimed: %d", len(recs))
	}

	got, err := db.CommandByID(ctx, first)
	if err != nil {
		t.Fatalf("command by id: %v", err)
	}
	if got.Status != store.StatusDelivered || got.Args.Username != "Alice" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestClaimPendingTargeting(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.InsertCommand(ctx, store.CommandRecord{
		GuildID: "G1", Kind: command.Shutdown, TargetJobID: "J1",
	}); err != nil {
		t.Fatalf("insert targeted: %v", err)
	}

	// Wrong job sees nothing, and the row stays pending.
	recs, err := db.ClaimPending(ctx, "G1", "J2")
	if err != nil {
		t.Fatalf("claim J2: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("targeted command leaked to J2")
	}

	// Wrong guild sees nothing either.
	recs, err = db.ClaimPending(ctx, "G2", "J1")
	if err != nil {
		t.Fatalf("claim G2: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("command leaked across guilds")
	}

	recs, err = db.ClaimPending(ctx, "G1", "J1")
	if err != nil {
		t.Fatalf("claim J1: %v", err)
	}
	if len(recs) != 1 || recs[0].Kind != command.Shutdown {
		t.Fatalf("targeted command not delivered to J1: %+v", recs)
	}
}

func TestClaimPendingConcurrentPolls(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const commands = 20
	for i := 0; i < commands; i++ {
		if _, err := db.InsertCommand(ctx, store.CommandRecord{
			GuildID: "G1", Kind: command.Kick, Args: command.Args{Username: "Alice"},
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	// Two jobs poll at the same time; every command must land in exactly one
	// response.
	var wg sync.WaitGroup
	results := make([][]store.CommandRecord, 2)
	for i, job := range []string{"J1", "J2"} {
		wg.Add(1)
		go func(i int, job string) {
			defer wg.Done()
			recs, err := db.ClaimPending(ctx, "G1", job)
			if err != nil {
				t.Errorf("claim %s: %v", job, err)
				return
			}
			results[i] = recs
		}(i, job)
	}
	wg.Wait()

	seen := make(map[int64]int)
	for _, recs := range results {
		for _, rec := range recs {
			seen[rec.ID]++
		}
	}
	if len(seen) != commands {
		t.Fatalf("expected %d distinct deliveries, got %d", commands, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("command %d delivered %d times", id, n)
		}
	}
}

func TestInsertCommandWithAudit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.InsertCommandWithAudit(ctx, store.CommandRecord{
		GuildID: "G1", Kind: command.Kick, Args: command.Args{Username: "Alice"}, Moderator: "Mod#1",
	}, store.AuditEntry{GuildID: "G1", Action: "kick", Target: "Alice", Moderator: "Mod#1"})
	if err != nil {
		t.Fatalf("combined insert: %v", err)
	}
	if got, err := db.CommandByID(ctx, id); err != nil || got.Status != store.StatusPending {
		t.Fatalf("queued row: %+v, %v", got, err)
	}
	entries, err := db.Audit(ctx, "G1", 10)
	if err != nil || len(entries) != 1 || entries[0].Target != "Alice" {
		t.Fatalf("audit row: %+v, %v", entries, err)
	}
}

// If the audit insert fails, the whole transaction rolls back: no queue row
// survives a submission that was reported as failed.
func TestInsertCommandWithAuditRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.db.ExecContext(ctx, `DROP TABLE audit_log;`); err != nil {
		t.Fatalf("drop audit table: %v", err)
	}

	_, err := db.InsertCommandWithAudit(ctx, store.CommandRecord{
		GuildID: "G1", Kind: command.Kick, Args: command.Args{Username: "Alice"},
	}, store.AuditEntry{GuildID: "G1", Action: "kick", Target: "Alice"})
	if err == nil {
		t.Fatalf("expected audit insert failure")
	}

	recs, err := db.ClaimPending(ctx, "G1", "J1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("rolled-back command still claimable: %+v", recs)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, target := range []string{"Alice", "Bob", "Carl"} {
		if _, err := db.AppendAudit(ctx, store.AuditEntry{
			GuildID: "G1", Action: "kick", Target: target, Moderator: "Mod#1",
		}); err != nil {
			t.Fatalf("append %s: %v", target, err)
		}
	}

	entries, err := db.Audit(ctx, "G1", 2)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first
	if entries[0].Target != "Carl" || entries[1].Target != "Bob" {
		t.Fatalf("audit order wrong: %s, %s", entries[0].Target, entries[1].Target)
	}

	entries, err = db.Audit(ctx, "G2", 0)
	if err != nil {
		t.Fatalf("audit other guild: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("audit leaked across guilds")
	}
}
