package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"gametonite/internal/timewindow"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultOffsetHours = 6
	defaultRefresh     = "@every 30s"
	defaultTick        = "@every 30s"
	defaultCacheTTL    = 15
	defaultLogLevel    = "INFO"
	defaultRollback    = "keep"
	defaultReqTimeout  = 10
	defaultMaxConns    = 20
	defaultMinConns    = 2
	defaultServerURL   = "http://127.0.0.1:8080"
	configTempPattern  = ".gametonite-config-*.tmp"
	maxOffsetHours     = 23
	maxZoneMinutes     = 14 * 60
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SyncConfig tunes the client-side sync controller.
type SyncConfig struct {
	// Rollback is "keep" (leave optimistic changes on failure) or "revert".
	Rollback string `yaml:"rollback" json:"rollback"`
	// RequestTimeoutSeconds bounds each gateway call. 0 disables the bound.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
}

// DatabaseConfig points the server at Postgres. An empty URL falls back to
// the DATABASE_URL / DB_* environment variables.
type DatabaseConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the API server.
	Listen string `yaml:"listen" json:"listen"`

	// OffsetHours is the hour of day at which the displayed 24h window starts.
	OffsetHours int `yaml:"offset_hours" json:"offset_hours"`

	// UTCOffsetMinutes pins the display zone. When nil the environment's
	// current UTC offset is used.
	UTCOffsetMinutes *int `yaml:"utc_offset_minutes,omitempty" json:"utc_offset_minutes,omitempty"`

	// RefreshCron and TickCron are robfig/cron specs for the window refetch
	// and the now-marker update.
	RefreshCron string `yaml:"refresh" json:"refresh"`
	TickCron    string `yaml:"tick" json:"tick"`

	// CacheTTLSeconds bounds how long the server caches range listings.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Client identity and the server it talks to.
	ServerURL string `yaml:"server_url" json:"server_url"`
	GroupID   string `yaml:"group_id" json:"group_id"`
	UserID    string `yaml:"user_id" json:"user_id"`
	Picture   string `yaml:"picture" json:"picture"`

	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Database DatabaseConfig `yaml:"database" json:"database"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health. Clients send the same credentials.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		OffsetHours:     defaultOffsetHours,
		RefreshCron:     defaultRefresh,
		TickCron:        defaultTick,
		CacheTTLSeconds: defaultCacheTTL,
		LogLevel:        defaultLogLevel,
		ServerURL:       defaultServerURL,
		Sync: SyncConfig{
			Rollback:              defaultRollback,
			RequestTimeoutSeconds: defaultReqTimeout,
		},
		Database: DatabaseConfig{
			MaxConns: defaultMaxConns,
			MinConns: defaultMinConns,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly. Out-of-range values are
// left for Validate to report.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.TickCron == "" {
		c.TickCron = defaultTick
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = defaultCacheTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.ServerURL == "" {
		c.ServerURL = defaultServerURL
	}
	if c.Sync.Rollback == "" {
		c.Sync.Rollback = defaultRollback
	}
	if c.Sync.RequestTimeoutSeconds < 0 {
		c.Sync.RequestTimeoutSeconds = 0
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = defaultMaxConns
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		c.Database.MinConns = defaultMinConns
	}
}

// Validate reports values that cannot be normalized away.
func (c *Config) Validate() error {
	if c.OffsetHours < 0 || c.OffsetHours > maxOffsetHours {
		return fmt.Errorf("offset_hours %d outside [0,%d]", c.OffsetHours, maxOffsetHours)
	}
	if c.UTCOffsetMinutes != nil {
		if m := *c.UTCOffsetMinutes; m < -maxZoneMinutes || m > maxZoneMinutes {
			return fmt.Errorf("utc_offset_minutes %d outside ±%d", m, maxZoneMinutes)
		}
	}
	switch c.Sync.Rollback {
	case "keep", "revert":
	default:
		return fmt.Errorf("sync.rollback %q: want keep or revert", c.Sync.Rollback)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables, typically loaded
// from a .env file first.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GAMETONITE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("GAMETONITE_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("GAMETONITE_GROUP"); v != "" {
		c.GroupID = v
	}
	if v := os.Getenv("GAMETONITE_USER"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("GAMETONITE_PICTURE"); v != "" {
		c.Picture = v
	}
	if v := os.Getenv("GAMETONITE_OFFSET_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OffsetHours = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Clock returns the clock the display window is computed with.
func (c *Config) Clock() timewindow.Clock {
	if c.UTCOffsetMinutes == nil {
		return timewindow.LocalNow
	}
	return timewindow.ZonedClock(timewindow.ZoneFromOffsetMinutes(*c.UTCOffsetMinutes))
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Sync.RequestTimeoutSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist a default config is written with 0600
// permissions and returned. Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, configTempPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
