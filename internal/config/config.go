package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultTimezone        = "UTC"
	DefaultWeekStart       = "monday"
	DefaultRefreshCron     = "*/15 * * * *"
	DefaultHorizonDays     = 42
	DefaultBackfillDays    = 42
	DefaultMaxVisibleLanes = 3
	DefaultLanguage        = "en"
	DefaultLogLevel        = "info"
	DefaultDataDir         = "/var/lib/calgrid"

	DefaultCaptureWidth   = 1304
	DefaultCaptureHeight  = 984
	DefaultCaptureTimeout = 30
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
	// Color is the default bar color for events of this source.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	return firstNonEmpty(c.ID, c.Name, c.URL)
}

// CalDAVConfig describes a CalDAV calendar collection.
type CalDAVConfig struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// Calendar is the collection path on the server, e.g.
	// "/calendars/team/work/". Empty means the first calendar found.
	Calendar string `yaml:"calendar" json:"calendar"`
	Color    string `yaml:"color,omitempty" json:"color,omitempty"`
}

func (c CalDAVConfig) SourceID() string {
	return firstNonEmpty(c.ID, c.Name, c.URL)
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig controls the headless Chromium PNG capture.
type CaptureConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// URL of the page to capture. Empty means the local /calendar.svg.
	URL string `yaml:"url" json:"url"`
	// Output is the PNG path. Empty means <data_dir>/preview.png.
	Output         string `yaml:"output" json:"output"`
	Width          int    `yaml:"width" json:"width"`
	Height         int    `yaml:"height" json:"height"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone in which days and weeks are cut.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday is the first column of a week row.
	// Supported values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic source refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays and BackfillDays bound the expanded event window around now.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// MaxVisibleLanes caps the bars drawn per week row; the rest are
	// summarized as "+N more".
	MaxVisibleLanes int `yaml:"max_visible_lanes" json:"max_visible_lanes"`

	// Language selects labels in rendered output ("en", "ko").
	Language string `yaml:"language" json:"language"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// DataDir holds the SQLite database, ICS cache and preview image.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// CalDAV is the list of CalDAV calendars.
	CalDAV []CalDAVConfig `yaml:"caldav" json:"caldav"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills zero values with defaults and coerces unknown enum values.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = DefaultWeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultHorizonDays
	}
	if c.BackfillDays <= 0 {
		c.BackfillDays = DefaultBackfillDays
	}
	if c.MaxVisibleLanes <= 0 {
		c.MaxVisibleLanes = DefaultMaxVisibleLanes
	}
	switch strings.ToLower(c.Language) {
	case "en", "ko":
		c.Language = strings.ToLower(c.Language)
	default:
		c.Language = DefaultLanguage
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.CalDAV == nil {
		c.CalDAV = []CalDAVConfig{}
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = DefaultCaptureWidth
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = DefaultCaptureHeight
	}
	if c.Capture.TimeoutSeconds <= 0 {
		c.Capture.TimeoutSeconds = DefaultCaptureTimeout
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstWeekday returns the weekday configured as the first column.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "calgrid.db")
}

func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "ics-cache")
}

// PreviewPath is where the captured PNG lands.
func (c *Config) PreviewPath() string {
	if c.Capture.Output != "" {
		return c.Capture.Output
	}
	return filepath.Join(c.DataDir, "preview.png")
}

// CaptureURL is the page the capture step screenshots.
func (c *Config) CaptureURL() string {
	if c.Capture.URL != "" {
		return c.Capture.URL
	}
	return "http://" + c.Listen + "/calendar.svg"
}

// Load reads and normalizes the YAML config at path. A missing file is
// created with defaults; if that write fails the defaults are returned along
// with the error.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, fmt.Errorf("write default config: %w", err)
			}
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Save normalizes cfg and replaces path with its YAML through a temp file
// and rename. The file is 0600 since it may hold credentials.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(parent, ".calgrid-config-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write config: %w", werr)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Save is Save(path, c).
func (c *Config) Save(path string) error {
	return Save(path, c)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
