package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mmstatus/internal/model"
)

const (
	MinIntervalSeconds     = 10
	MaxIntervalSeconds     = 3600
	DefaultIntervalSeconds = 60

	DefaultRequestTimeoutSeconds = 10
)

// CalendarConfig describes a single ICS calendar that can be watched.
type CalendarConfig struct {
	// ID is the identifier the engine is configured with.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
}

// MattermostConfig holds the server and the credentials obtained from the
// login exchange.
type MattermostConfig struct {
	Server    string `yaml:"server" json:"server"`
	UserID    string `yaml:"user_id" json:"user_id"`
	AuthToken string `yaml:"auth_token" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API. Empty
	// disables the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA timezone used when interpreting floating ICS
	// times (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// IntervalSeconds is the poll cadence, clamped to [10, 3600].
	IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`

	// RequestTimeoutSeconds bounds every call to the chat server.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`

	// Calendar is the ID of the watched calendar. Defaults to the first
	// entry of Calendars.
	Calendar string `yaml:"calendar" json:"calendar"`

	// Calendars is the list of known ICS calendars.
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// CacheDir stores ICS bodies and HTTP cache metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Mattermost MattermostConfig `yaml:"mattermost" json:"mattermost"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8787",
		LogLevel:              "info",
		Timezone:              "Local",
		IntervalSeconds:       DefaultIntervalSeconds,
		RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
		Calendars:             []CalendarConfig{},
		CacheDir:              defaultCacheDir(),
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "mmstatus", "ics")
	}
	return "./var/ics-cache"
}

// Normalize fills in missing/zero values with sensible defaults and clamps
// the poll interval into its allowed range.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	c.IntervalSeconds = ClampInterval(c.IntervalSeconds)
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		if c.Calendars[i].ID == "" {
			if c.Calendars[i].Name != "" {
				c.Calendars[i].ID = c.Calendars[i].Name
			} else {
				c.Calendars[i].ID = c.Calendars[i].URL
			}
		}
	}
	if c.Calendar == "" && len(c.Calendars) > 0 {
		c.Calendar = c.Calendars[0].ID
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}
}

// ClampInterval forces an interval into [MinIntervalSeconds,
// MaxIntervalSeconds]; zero means "unset" and yields the default.
func ClampInterval(sec int) int {
	switch {
	case sec == 0:
		return DefaultIntervalSeconds
	case sec < MinIntervalSeconds:
		return MinIntervalSeconds
	case sec > MaxIntervalSeconds:
		return MaxIntervalSeconds
	default:
		return sec
	}
}

// FindCalendar returns the calendar with the given ID.
func (c *Config) FindCalendar(id string) (CalendarConfig, bool) {
	for _, cal := range c.Calendars {
		if cal.ID == id {
			return cal, true
		}
	}
	return CalendarConfig{}, false
}

// Credentials returns the chat-server credentials currently configured.
func (c *Config) Credentials() model.Credentials {
	return model.Credentials{
		ServerBaseURL: c.Mattermost.Server,
		UserID:        c.Mattermost.UserID,
		AuthToken:     c.Mattermost.AuthToken,
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path. The file
// holds an auth token, so it is written atomically (temp file + rename)
// with 0600 permissions inside a 0700 directory.
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

	tmp, err := os.CreateTemp(dir, ".mmstatus-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
