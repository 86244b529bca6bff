package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/JamieW105/Ro-link-sub000/internal/auth"
	"github.com/JamieW105/Ro-link-sub000/internal/command"
	"github.com/JamieW105/Ro-link-sub000/internal/poll"
	"github.com/JamieW105/Ro-link-sub000/internal/presence"
	"github.com/JamieW105/Ro-link-sub000/internal/producer"
	"github.com/JamieW105/Ro-link-sub000/internal/push"
	"github.com/JamieW105/Ro-link-sub000/internal/store"
	"github.com/JamieW105/Ro-link-sub000/internal/store/sqlite"
)

const (
	testAPIKey  = "admin-key"
	testPollKey = "poll-key-1"
)

func newTestRouter(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	reg := presence.NewRegistry(db, 0)
	prod := producer.New(db, push.Nop(), nil, nil, nil)
	resp := poll.New(db, reg, nil)
	mw := auth.New(testAPIKey, map[string]string{"G1": testPollKey})
	guildOK := func(guildID string) bool { return guildID == "G1" }

	r := NewRouter(prod, resp, reg, db, mw, guildOK, "/api")
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func TestSubmitThenPollFlow(t *testing.T) {
	srv, db := newTestRouter(t)

	// Submit a kick through the admin surface.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/commands", testAPIKey, map[string]any{
		"guild_id":  "G1",
		"command":   "kick",
		"args":      map[string]string{"username": "Alice", "reason": "spam"},
		"moderator": "Mod#1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.StatusCode, body)
	}
	var sub struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &sub); err != nil || sub.ID == 0 {
		t.Fatalf("submit response: %s (%v)", body, err)
	}

	rec, err := db.CommandByID(context.Background(), sub.ID)
	if err != nil || rec.Status != store.StatusPending {
		t.Fatalf("queued row: %+v, %v", rec, err)
	}

	// First poll drains the command.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/poll", testPollKey, map[string]any{
		"jobId":       "J1",
		"playerCount": 2,
		"players":     []string{"Alice", "Bob"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("poll: %d %s", resp.StatusCode, body)
	}
	var pr struct {
		Commands []command.Payload `json:"commands"`
	}
	if err := json.Unmarshal(body, &pr); err != nil {
		t.Fatalf("poll response: %v", err)
	}
	if len(pr.Commands) != 1 || pr.Commands[0].Command != "kick" || pr.Commands[0].Args.Username != "Alice" {
		t.Fatalf("poll payload: %+v", pr.Commands)
	}

	// Second poll comes back empty.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/poll", testPollKey, map[string]any{
		"jobId": "J1", "playerCount": 2, "players": []string{"Alice", "Bob"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second poll: %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &pr); err != nil {
		t.Fatalf("second poll response: %v", err)
	}
	if len(pr.Commands) != 0 {
		t.Fatalf("command re-delivered: %+v", pr.Commands)
	}

	// The poll's heartbeat shows up in presence queries.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/lookup?guild_id=G1&username=Bob", testAPIKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lookup: %d", resp.StatusCode)
	}
	var servers []store.Server
	if err := json.Unmarshal(body, &servers); err != nil {
		t.Fatalf("lookup response: %v", err)
	}
	if len(servers) != 1 || servers[0].JobID != "J1" {
		t.Fatalf("lookup Bob: %+v", servers)
	}

	// And the audit trail recorded the submission.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/audit?guild_id=G1", testAPIKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit: %d", resp.StatusCode)
	}
	var entries []store.AuditEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("audit response: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "kick" || entries[0].Target != "Alice" {
		t.Fatalf("audit entries: %+v", entries)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	srv, _ := newTestRouter(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/commands", testAPIKey, map[string]any{
		"guild_id": "G1", "command": "explode", "args": map[string]string{"username": "Alice"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown kind: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/commands", testAPIKey, map[string]any{
		"guild_id": "G1", "command": "kick", "args": map[string]string{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("kick without username: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/commands", testAPIKey, map[string]any{
		"guild_id": "G1", "command": "kick", "args": map[string]string{"username": "../etc/passwd"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsafe username: %d", resp.StatusCode)
	}
}

// A command for a guild with no config block is rejected instead of queued:
// no poll key maps to it, so the row could never be drained.
func TestSubmitRejectsUnconfiguredGuild(t *testing.T) {
	srv, db := newTestRouter(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/commands", testAPIKey, map[string]any{
		"guild_id": "G2", "command": "kick",
		"args":      map[string]string{"username": "Alice"},
		"moderator": "Mod#1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unconfigured guild accepted: %d %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/commands", testAPIKey, map[string]any{
		"command": "kick", "args": map[string]string{"username": "Alice"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing guild_id accepted: %d", resp.StatusCode)
	}

	// Nothing reached the queue.
	recs, err := db.ClaimPending(context.Background(), "G2", "J1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("undeliverable command queued: %+v", recs)
	}
}

func TestAuthBoundaries(t *testing.T) {
	srv, _ := newTestRouter(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/poll", "wrong", map[string]any{"jobId": "J1"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad poll key: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/commands", testPollKey, map[string]any{
		"guild_id": "G1", "command": "update",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("poll key on admin surface: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
}

func TestPollRequiresJobID(t *testing.T) {
	srv, _ := newTestRouter(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/poll", testPollKey, map[string]any{
		"playerCount": 0, "players": []string{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing jobId: %d", resp.StatusCode)
	}
}

func TestServersEndpointRequiresGuild(t *testing.T) {
	srv, _ := newTestRouter(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/servers", testAPIKey, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing guild_id: %d", resp.StatusCode)
	}
}
