package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"eventfeed/internal/model"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "EVENTFEED_CONFIG"

const (
	defaultListen               = "127.0.0.1:8080"
	defaultTimezone             = "UTC"
	defaultRefreshCron          = "*/30 * * * *"
	defaultDataPath             = "/var/lib/eventfeed/eventfeed.db"
	defaultCuratedHorizonDays   = 60
	defaultBookmarkCacheMinutes = 5
	defaultReminderLeadMinutes  = 60
)

// SourcesConfig holds the upstream endpoint of each event source. A source
// without a URL is treated as empty.
type SourcesConfig struct {
	Event       string `yaml:"event" json:"event"`
	Luma        string `yaml:"luma" json:"luma"`
	RA          string `yaml:"ra" json:"ra"`
	Meetup      string `yaml:"meetup" json:"meetup"`
	Sports      string `yaml:"sports" json:"sports"`
	Instagram   string `yaml:"instagram" json:"instagram"`
	Renaissance string `yaml:"renaissance" json:"renaissance"`

	// Combined, if set, serves every source in one payload and takes
	// precedence over the per-source URLs.
	Combined string `yaml:"combined,omitempty" json:"combined,omitempty"`
}

// URLs returns the per-source URLs keyed by kind, omitting empty ones.
func (s SourcesConfig) URLs() map[model.Kind]string {
	all := map[model.Kind]string{
		model.KindPrimary:   s.Event,
		model.KindLuma:      s.Luma,
		model.KindRA:        s.RA,
		model.KindMeetup:    s.Meetup,
		model.KindSports:    s.Sports,
		model.KindInstagram: s.Instagram,
		model.KindCurated:   s.Renaissance,
	}
	out := make(map[model.Kind]string, len(all))
	for k, u := range all {
		if u = strings.TrimSpace(u); u != "" {
			out[k] = u
		}
	}
	return out
}

// BackendConfig configures the social bookmark backend. Sync is disabled
// when URL is empty.
type BackendConfig struct {
	URL string `yaml:"url" json:"url"`
	// UserID seeds the stored session identity on startup when set.
	UserID string `yaml:"user_id,omitempty" json:"user_id,omitempty"`
	// WalletKeyPath is a file holding the hex signing seed. It is created
	// on first run.
	WalletKeyPath string `yaml:"wallet_key_path" json:"wallet_key_path"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Enabled reports whether both credentials are set. Empty credentials leave
// auth disabled.
func (b *BasicAuthConfig) Enabled() bool {
	return b != nil && b.Username != "" && b.Password != ""
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to bucket events into calendar days.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the cron schedule of the background aggregate refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DataPath is the SQLite file backing the cache and bookmarks. ":memory:"
	// keeps everything in process.
	DataPath string `yaml:"data_path" json:"data_path"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Sources SourcesConfig `yaml:"sources" json:"sources"`
	Backend BackendConfig `yaml:"backend" json:"backend"`

	// CuratedHorizonDays bounds recurrence expansion of curated events.
	CuratedHorizonDays int `yaml:"curated_horizon_days" json:"curated_horizon_days"`

	// BookmarkCacheMinutes is how long the aggregated bookmark list is served
	// from cache.
	BookmarkCacheMinutes int `yaml:"bookmark_cache_minutes" json:"bookmark_cache_minutes"`

	// ReminderLeadMinutes is how long before start a reminder fires.
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes" json:"reminder_lead_minutes"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               defaultListen,
		Timezone:             defaultTimezone,
		RefreshCron:          defaultRefreshCron,
		DataPath:             defaultDataPath,
		LogLevel:             "info",
		Backend:              BackendConfig{WalletKeyPath: "/var/lib/eventfeed/wallet.key"},
		CuratedHorizonDays:   defaultCuratedHorizonDays,
		BookmarkCacheMinutes: defaultBookmarkCacheMinutes,
		ReminderLeadMinutes:  defaultReminderLeadMinutes,
		BasicAuth:            nil,
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.DataPath == "" {
		c.DataPath = defaultDataPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CuratedHorizonDays <= 0 {
		c.CuratedHorizonDays = defaultCuratedHorizonDays
	}
	if c.BookmarkCacheMinutes <= 0 {
		c.BookmarkCacheMinutes = defaultBookmarkCacheMinutes
	}
	if c.ReminderLeadMinutes <= 0 {
		c.ReminderLeadMinutes = defaultReminderLeadMinutes
	}
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("refresh %q: %w", c.RefreshCron, err)
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		return errors.New("basic_auth.username is empty")
	}
	return nil
}

// Location returns the configured display zone, or UTC if it cannot be
// loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) CuratedHorizon() time.Duration {
	return time.Duration(c.CuratedHorizonDays) * 24 * time.Hour
}

func (c *Config) BookmarkCacheTTL() time.Duration {
	return time.Duration(c.BookmarkCacheMinutes) * time.Minute
}

func (c *Config) ReminderLead() time.Duration {
	return time.Duration(c.ReminderLeadMinutes) * time.Minute
}

// ResolvePath picks the config path: the flag value if set, then
// $EVENTFEED_CONFIG, then fallback.
func ResolvePath(flagValue, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(EnvPath)); env != "" {
		return env
	}
	return fallback
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read, unmarshaled and normalized.
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
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
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

	tmp, err := os.CreateTemp(dir, ".eventfeed-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
