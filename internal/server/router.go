package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JamieW105/Ro-link-sub000/internal/auth"
	"github.com/JamieW105/Ro-link-sub000/internal/command"
	"github.com/JamieW105/Ro-link-sub000/internal/metrics"
	"github.com/JamieW105/Ro-link-sub000/internal/poll"
	"github.com/JamieW105/Ro-link-sub000/internal/presence"
	"github.com/JamieW105/Ro-link-sub000/internal/producer"
	"github.com/JamieW105/Ro-link-sub000/internal/store"
)

// Router provides the bridge's HTTP surface.
// Endpoints (under basePath, default "/api"):
//
//	POST /poll       game servers: heartbeat + drain pending commands (poll key)
//	POST /commands   dashboard/bot: submit a moderation command (api key)
//	GET  /servers    live servers for a guild (api key)
//	GET  /lookup     which live servers hold a player (api key)
//	GET  /audit      recent audit entries (api key)
//
// Plus unauthenticated /healthz and /metrics at the root.
type Router struct {
	producer  *producer.Producer
	responder *poll.Responder
	registry  *presence.Registry
	store     store.Store
	mw        *auth.Middleware
	guildOK   func(guildID string) bool
	basePath  string
}

// NewRouter builds the HTTP surface. guildConfigured gates command
// submission: a command for a guild nobody set up would sit in the queue
// forever, since no poll key maps to it.
func NewRouter(p *producer.Producer, r *poll.Responder, reg *presence.Registry, st store.Store, mw *auth.Middleware, guildConfigured func(string) bool, basePath string) *Router {
	if guildConfigured == nil {
		guildConfigured = func(string) bool { return true }
	}
	return &Router{
		producer:  p,
		responder: r,
		registry:  reg,
		store:     st,
		mw:        mw,
		guildOK:   guildConfigured,
		basePath:  sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	group := g.Group(r.basePath)
	group.POST("/poll", r.mw.PollAuth(), r.handlePoll)

	api := group.Group("", r.mw.APIAuth())
	api.POST("/commands", r.handleSubmit)
	api.GET("/servers", r.handleServers)
	api.GET("/lookup", r.handleLookup)
	api.GET("/audit", r.handleAudit)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// pollReq ignores the playerCount the game script also sends; the players
// list is authoritative.
type pollReq struct {
	JobID   string   `json:"jobId"`
	Players []string `json:"players"`
}

type pollResp struct {
	Commands []command.Payload `json:"commands"`
}

func (r *Router) handlePoll(c *gin.Context) {
	guildID, ok := auth.Guild(c)
	if !ok {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "no guild bound to credential"})
		return
	}
	var req pollReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.JobID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "jobId required"})
		return
	}

	cmds, err := r.responder.HandlePoll(c.Request.Context(), guildID, req.JobID, req.Players)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	metrics.SetLiveServers(guildID, liveCount(c, r, guildID))
	writeJSON(c, http.StatusOK, pollResp{Commands: cmds})
}

func liveCount(c *gin.Context, r *Router, guildID string) int {
	servers, err := r.registry.Servers(c.Request.Context(), guildID)
	if err != nil {
		return 0
	}
	return len(servers)
}

type submitReq struct {
	GuildID   string       `json:"guild_id"`
	Command   string       `json:"command"`
	Args      command.Args `json:"args"`
	Moderator string       `json:"moderator"`
}

type submitResp struct {
	ID int64 `json:"id"`
}

func (r *Router) handleSubmit(c *gin.Context) {
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.GuildID == "" || !r.guildOK(req.GuildID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "guild is not configured"})
		return
	}
	kind, err := command.ParseKind(req.Command)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if req.Args.Username != "" && !isSafeName(req.Args.Username) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid username"})
		return
	}

	id, err := r.producer.Submit(c.Request.Context(), req.GuildID, kind, req.Args, req.Moderator)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, submitResp{ID: id})
}

func (r *Router) handleServers(c *gin.Context) {
	guildID := c.Query("guild_id")
	if guildID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "guild_id query param required"})
		return
	}
	servers, err := r.registry.Servers(c.Request.Context(), guildID)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, servers)
}

func (r *Router) handleLookup(c *gin.Context) {
	guildID := c.Query("guild_id")
	username := c.Query("username")
	if guildID == "" || username == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "guild_id and username query params required"})
		return
	}
	servers, err := r.registry.Lookup(c.Request.Context(), guildID, username)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, servers)
}

func (r *Router) handleAudit(c *gin.Context) {
	guildID := c.Query("guild_id")
	if guildID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "guild_id query param required"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := r.store.Audit(c.Request.Context(), guildID, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, entries)
}
