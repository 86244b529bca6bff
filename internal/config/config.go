package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JamieW105/Ro-link-sub000/internal/logger"
)

// GuildConfig is one set-up Discord guild: the scope a moderation command and
// its game servers belong to. PollKey is the bearer credential the guild's
// game servers present on /poll. The push fields are optional; a guild
// without them relies on the poll path alone.
type GuildConfig struct {
	GuildID    string `toml:"guild_id" mapstructure:"guild_id"`
	PollKey    string `toml:"poll_key" mapstructure:"poll_key"`
	UniverseID string `toml:"universe_id" mapstructure:"universe_id"`
	PushTopic  string `toml:"push_topic" mapstructure:"push_topic"`
	PushAPIKey string `toml:"push_api_key" mapstructure:"push_api_key"`
	WebhookURL string `toml:"webhook_url" mapstructure:"webhook_url"`
}

// TLSConfig enables HTTPS on the daemon's listener. Either point at an
// existing cert/key pair, or set dir with auto_generate for a self-signed
// pair (development and single-host deployments).
type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
}

// AuditExportConfig configures the optional ClickHouse audit export sink.
type AuditExportConfig struct {
	Type     string `toml:"type" mapstructure:"type"` // "" (disabled) or "clickhouse"
	Addr     string `toml:"addr" mapstructure:"addr"`
	Database string `toml:"database" mapstructure:"database"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	Table    string `toml:"table" mapstructure:"table"`
}

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Listen        string             `toml:"listen" mapstructure:"listen"`
	BasePath      string             `toml:"base_path" mapstructure:"base_path"`
	Store         string             `toml:"store" mapstructure:"store"`
	APIKey        string             `toml:"api_key" mapstructure:"api_key"`
	StaleAfter    time.Duration      `toml:"stale_after" mapstructure:"stale_after"`
	SweepSchedule string             `toml:"sweep_schedule" mapstructure:"sweep_schedule"`
	TLS           *TLSConfig         `toml:"tls" mapstructure:"tls"`
	Log           logger.Config      `toml:"log" mapstructure:"log"`
	AuditExport   *AuditExportConfig `toml:"audit_export" mapstructure:"audit_export"`
	Guilds        []GuildConfig      `toml:"guilds" mapstructure:"guilds"`
}

// Defaults applied by Load when the file leaves fields unset.
const (
	DefaultListen        = ":8080"
	DefaultBasePath      = "/api"
	DefaultSweepSchedule = "@every 60s"
)

// Load reads and validates a TOML config file.
func Load(path string) (FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return FileConfig{}, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, err
	}
	applyDefaults(&fc)
	if err := fc.Validate(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

func applyDefaults(fc *FileConfig) {
	if fc.Listen == "" {
		fc.Listen = DefaultListen
	}
	if fc.BasePath == "" {
		fc.BasePath = DefaultBasePath
	}
	if fc.SweepSchedule == "" {
		fc.SweepSchedule = DefaultSweepSchedule
	}
}

// Validate checks the parts the daemon cannot limp along without.
func (fc FileConfig) Validate() error {
	if strings.TrimSpace(fc.Store) == "" {
		return fmt.Errorf("store DSN required")
	}
	if strings.TrimSpace(fc.APIKey) == "" {
		return fmt.Errorf("api_key required")
	}
	if t := fc.TLS; t != nil && t.Enabled {
		hasFiles := t.CertFile != "" && t.KeyFile != ""
		if !hasFiles && t.Dir == "" {
			return fmt.Errorf("tls enabled but neither cert_file/key_file nor dir set")
		}
	}
	seen := make(map[string]bool, len(fc.Guilds))
	for i, g := range fc.Guilds {
		if strings.TrimSpace(g.GuildID) == "" {
			return fmt.Errorf("guilds[%d]: guild_id required", i)
		}
		if strings.TrimSpace(g.PollKey) == "" {
			return fmt.Errorf("guild %s: poll_key required", g.GuildID)
		}
		if seen[g.GuildID] {
			return fmt.Errorf("guild %s configured twice", g.GuildID)
		}
		seen[g.GuildID] = true
	}
	return nil
}

// Guild returns the config block for a guild id, if set up.
func (fc FileConfig) Guild(guildID string) (GuildConfig, bool) {
	for _, g := range fc.Guilds {
		if g.GuildID == guildID {
			return g, true
		}
	}
	return GuildConfig{}, false
}
