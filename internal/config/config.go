// Package config loads chatrelay.toml. Every key is optional: the file is
// decoded over Default(), then environment overrides are applied.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/paths"
)

// DefaultUserAgent is a desktop Chrome UA; the builtin sites serve a degraded
// page to headless UAs.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config is the merged chatrelay configuration.
type Config struct {
	Site     string `toml:"site"`      // builtin profile name, or the base for site_file
	SiteFile string `toml:"site_file"` // optional YAML profile overlay

	// Debug forces debug logging and a headed browser.
	Debug bool `toml:"debug"`

	Browser   BrowserConfig   `toml:"browser"`
	Timeouts  TimeoutConfig   `toml:"timeouts"`
	Detection DetectionConfig `toml:"detection"`
	Attach    AttachConfig    `toml:"attach"`
	Session   SessionConfig   `toml:"session"`
	Server    ServerConfig    `toml:"server"`
	Paths     PathsConfig     `toml:"paths"`
	Log       LogConfig       `toml:"log"`

	// File the config was read from; empty when running on defaults.
	Source string `toml:"-"`
}

// BrowserConfig holds browser launch settings
type BrowserConfig struct {
	Bin          string        `toml:"bin"`           // Browser binary (empty = system install, then download)
	Dir          string        `toml:"dir"`           // Download directory for a managed Chromium
	AutoDownload bool          `toml:"auto_download"` // Download Chromium if none is installed
	ProfileDir   string        `toml:"profile_dir"`   // Persistent user data dir (empty = temp, removed on close)
	Headless     bool          `toml:"headless"`      // Run in headless mode
	NoSandbox    bool          `toml:"no_sandbox"`    // Disable sandbox (needed for Docker/root)
	Stealth      bool          `toml:"stealth"`       // Enable stealth mode
	SlowMotion   time.Duration `toml:"slow_motion"`   // Delay between driver actions, for watching a headed run
	UserAgent    string        `toml:"user_agent"`
	Window       string        `toml:"window"` // "width,height"
	ExtraFlags   []string      `toml:"extra_flags"`
}

// TimeoutConfig holds the outer time budgets.
type TimeoutConfig struct {
	Navigation time.Duration `toml:"navigation"`
	LoginWait  time.Duration `toml:"login_wait"`
	Response   time.Duration `toml:"response"`
	Element    time.Duration `toml:"element"`
	Probe      time.Duration `toml:"probe"`
}

// DetectionConfig tunes answer completion and submit confirmation. The
// defaults were tuned against the builtin sites.
type DetectionConfig struct {
	PollInterval         time.Duration `toml:"poll_interval"`
	FastStableReads      int           `toml:"fast_stable_reads"`
	SlowStableReads      int           `toml:"slow_stable_reads"`
	TransientMaxLen      int           `toml:"transient_max_len"`
	ResolveWait          time.Duration `toml:"resolve_wait"`
	ConfirmInterval      time.Duration `toml:"confirm_interval"`
	ConfirmTimeout       time.Duration `toml:"confirm_timeout"`
	ImageResubmitTimeout time.Duration `toml:"image_resubmit_timeout"`
}

// AttachConfig tunes the image upload flow.
type AttachConfig struct {
	MaxAttempts     int           `toml:"max_attempts"`
	TriggerTimeout  time.Duration `toml:"trigger_timeout"`
	MenuTimeout     time.Duration `toml:"menu_timeout"`
	ChooserTimeout  time.Duration `toml:"chooser_timeout"`
	PreviewTimeout  time.Duration `toml:"preview_timeout"`
	PreviewInterval time.Duration `toml:"preview_interval"`
	RetryPause      time.Duration `toml:"retry_pause"`
	FaultPause      time.Duration `toml:"fault_pause"`
	DismissX        float64       `toml:"dismiss_x"`
	DismissY        float64       `toml:"dismiss_y"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	NewChatInterval  int    `toml:"new_chat_interval"`
	InteractiveLogin bool   `toml:"interactive_login"`
	Keepalive        string `toml:"keepalive"` // cron spec, e.g. "@every 5m"
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Listen            string  `toml:"listen"`
	Token             string  `toml:"token"`               // Bearer token; empty = no auth
	RequestsPerSecond float64 `toml:"requests_per_second"` // 0 = unlimited
	Burst             int     `toml:"burst"`
	MaxImageBytes     int64   `toml:"max_image_bytes"`
}

// PathsConfig holds file locations. "~" is expanded.
type PathsConfig struct {
	StateFile string `toml:"state_file"` // empty = ~/.chatrelay/state/<site>_state.json
	TurnDB    string `toml:"turn_db"`    // empty = turn history disabled
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `toml:"level"`
	JSON       bool   `toml:"json"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Site: "baidu",
		Browser: BrowserConfig{
			AutoDownload: true,
			Headless:     true,
			NoSandbox:    true,
			Stealth:      true,
			UserAgent:    DefaultUserAgent,
			Window:       "1280,800",
			ExtraFlags: []string{
				"disable-blink-features=AutomationControlled",
				"disable-infobars",
				"disable-dev-shm-usage",
			},
		},
		Timeouts: TimeoutConfig{
			Navigation: 30 * time.Second,
			LoginWait:  5 * time.Minute,
			Response:   120 * time.Second,
			Element:    10 * time.Second,
			Probe:      5 * time.Second,
		},
		Detection: DetectionConfig{
			PollInterval:         300 * time.Millisecond,
			FastStableReads:      2,
			SlowStableReads:      3,
			TransientMaxLen:      30,
			ResolveWait:          500 * time.Millisecond,
			ConfirmInterval:      300 * time.Millisecond,
			ConfirmTimeout:       1500 * time.Millisecond,
			ImageResubmitTimeout: 6 * time.Second,
		},
		Attach: AttachConfig{
			MaxAttempts:     3,
			TriggerTimeout:  5 * time.Second,
			MenuTimeout:     3 * time.Second,
			ChooserTimeout:  10 * time.Second,
			PreviewTimeout:  10 * time.Second,
			PreviewInterval: 200 * time.Millisecond,
			RetryPause:      500 * time.Millisecond,
			FaultPause:      time.Second,
			DismissX:        10,
			DismissY:        10,
		},
		Session: SessionConfig{
			NewChatInterval: 50,
		},
		Server: ServerConfig{
			Listen:        "127.0.0.1:8000",
			Burst:         4,
			MaxImageBytes: 10 << 20,
		},
		Paths: PathsConfig{
			TurnDB: "~/.chatrelay/turns.db",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads the config file at path (or the one paths.ConfigPath finds when
// path is empty), applies environment overrides and then overrides (command
// line flags), resolves paths and validates.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = found
	}
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		for _, key := range md.Undecoded() {
			logging.L_warn("config: unknown key ignored", "key", key.String(), "file", path)
		}
		cfg.Source = path
		logging.L_debug("config: loaded", "path", path)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies CHATRELAY_* overrides using getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("CHATRELAY_DEBUG"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CHATRELAY_DEBUG: %w", err)
		}
		c.Debug = on
	}
	if v := getenv("CHATRELAY_SLOW_MO"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return fmt.Errorf("config: CHATRELAY_SLOW_MO must be milliseconds, got %q", v)
		}
		c.Browser.SlowMotion = time.Duration(ms) * time.Millisecond
	}
	if v := getenv("CHATRELAY_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := getenv("CHATRELAY_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := getenv("CHATRELAY_SITE"); v != "" {
		c.Site = v
	}
	if c.Debug {
		c.Browser.Headless = false
		c.Log.Level = "debug"
	}
	return nil
}

func (c *Config) resolvePaths() error {
	var err error
	if c.Paths.StateFile == "" {
		if c.Paths.StateFile, err = paths.StatePath(c.Site); err != nil {
			return err
		}
	}
	for _, p := range []*string{&c.Paths.StateFile, &c.Paths.TurnDB, &c.Log.File, &c.SiteFile, &c.Browser.ProfileDir, &c.Browser.Dir} {
		if *p, err = paths.ExpandTilde(*p); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings that would make a wait loop degenerate.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if strings.TrimSpace(c.Site) == "" {
		errs = append(errs, errors.New("site is required"))
	}

	positive("timeouts.navigation", c.Timeouts.Navigation)
	positive("timeouts.login_wait", c.Timeouts.LoginWait)
	positive("timeouts.response", c.Timeouts.Response)
	positive("timeouts.element", c.Timeouts.Element)
	positive("timeouts.probe", c.Timeouts.Probe)

	d := c.Detection
	positive("detection.poll_interval", d.PollInterval)
	positive("detection.confirm_interval", d.ConfirmInterval)
	positive("detection.confirm_timeout", d.ConfirmTimeout)
	positive("detection.image_resubmit_timeout", d.ImageResubmitTimeout)
	if d.ResolveWait < 0 {
		errs = append(errs, fmt.Errorf("detection.resolve_wait must not be negative"))
	}
	if d.FastStableReads < 1 {
		errs = append(errs, fmt.Errorf("detection.fast_stable_reads must be at least 1, got %d", d.FastStableReads))
	}
	if d.SlowStableReads < d.FastStableReads {
		errs = append(errs, fmt.Errorf("detection.slow_stable_reads (%d) must not be below fast_stable_reads (%d)", d.SlowStableReads, d.FastStableReads))
	}
	if d.TransientMaxLen < 0 {
		errs = append(errs, fmt.Errorf("detection.transient_max_len must not be negative"))
	}

	a := c.Attach
	if a.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("attach.max_attempts must be at least 1, got %d", a.MaxAttempts))
	}
	positive("attach.trigger_timeout", a.TriggerTimeout)
	positive("attach.menu_timeout", a.MenuTimeout)
	positive("attach.chooser_timeout", a.ChooserTimeout)
	positive("attach.preview_timeout", a.PreviewTimeout)
	positive("attach.preview_interval", a.PreviewInterval)

	if c.Session.NewChatInterval < 1 {
		errs = append(errs, fmt.Errorf("session.new_chat_interval must be at least 1, got %d", c.Session.NewChatInterval))
	}
	if c.Server.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("server.requests_per_second must not be negative"))
	}
	if c.Server.RequestsPerSecond > 0 && c.Server.Burst < 1 {
		errs = append(errs, fmt.Errorf("server.burst must be at least 1 when rate limiting"))
	}
	if c.Server.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_image_bytes must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LoggingConfig converts the [log] section for logging.Init.
func (c *Config) LoggingConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Log.Level)
	lc.JSON = c.Log.JSON
	lc.File = c.Log.File
	if c.Log.MaxSizeMB > 0 {
		lc.MaxSizeMB = c.Log.MaxSizeMB
	}
	if c.Log.MaxBackups > 0 {
		lc.MaxBackups = c.Log.MaxBackups
	}
	if c.Log.MaxAgeDays > 0 {
		lc.MaxAgeDays = c.Log.MaxAgeDays
	}
	if lc.Level >= logging.LevelDebug {
		lc.ShowCaller = true
	}
	return lc
}
