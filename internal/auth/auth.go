package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for gin context keys to avoid collisions
type ContextKey string

// GuildKey is the context key under which PollAuth stores the authenticated
// guild id.
const GuildKey ContextKey = "auth_guild"

// Middleware authenticates the two caller populations: game servers polling
// with their guild's poll key, and dashboard/bot front ends using the admin
// API key. Keys are static, loaded from config at startup.
type Middleware struct {
	apiKey   string
	pollKeys map[string]string // poll key -> guild id
}

func New(apiKey string, guildPollKeys map[string]string) *Middleware {
	byKey := make(map[string]string, len(guildPollKeys))
	for guildID, key := range guildPollKeys {
		if key != "" {
			byKey[key] = guildID
		}
	}
	return &Middleware{apiKey: apiKey, pollKeys: byKey}
}

// PollAuth resolves the bearer token to a guild and stores the guild id in
// the gin context. An unknown key is a 401; the game server retries on its
// own fixed interval.
func (m *Middleware) PollAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			unauthorized(c)
			return
		}
		guildID, ok := m.lookupPollKey(token)
		if !ok {
			unauthorized(c)
			return
		}
		c.Set(string(GuildKey), guildID)
		c.Next()
	}
}

// APIAuth guards the admin surface with the shared API key.
func (m *Middleware) APIAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.apiKey)) != 1 {
			unauthorized(c)
			return
		}
		c.Next()
	}
}

// Guild returns the guild id PollAuth stored on the context.
func Guild(c *gin.Context) (string, bool) {
	v, ok := c.Get(string(GuildKey))
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m *Middleware) lookupPollKey(token string) (string, bool) {
	// Constant-time scan; the key set is tiny (one per guild).
	var guildID string
	found := false
	for key, g := range m.pollKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			guildID = g
			found = true
		}
	}
	return guildID, found
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "authentication_failed",
		"message": "Invalid credentials",
	})
	c.Abort()
}
