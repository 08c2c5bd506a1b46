package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/adrg/xdg"
	"github.com/creasty/defaults"
)

// AppName names the XDG config and cache subdirectories.
const AppName = "system-notifier"

// DefaultEnabledPlugins is used when neither the command line nor the
// main section names any watcher.
const DefaultEnabledPlugins = "battery, volume_pactl, iwd"

// Config is the merged, read-only configuration of one run.
//
// Option values are kept as strings keyed by section and option, the way
// watchers consume them. The main and logging sections are additionally
// decoded into typed structs.
type Config struct {
	Main    MainConfig
	Logging LoggingConfig

	// Files lists the files that contributed, in merge order.
	Files []string

	sections map[string]map[string]string
}

// MainConfig holds options shared by every watcher.
type MainConfig struct {
	EnabledPlugins string `json:"enabled_plugins" env:"ENABLED_PLUGINS" default:"battery, volume_pactl, iwd"`
	// Timeout is the default expire timeout: integer milliseconds or a Go duration.
	Timeout      string `json:"timeout" env:"TIMEOUT"`
	CacheDir     string `json:"cache_dir" env:"CACHE_DIR"`
	IconThemeDir string `json:"icon_theme_dir" env:"ICON_THEME_DIR" default:"/usr/share/icons/breeze"`
	// Sink selects the notification backend: "dbus" or "beeep".
	Sink string `json:"sink" env:"SINK" default:"dbus"`
}

// SetDefaults implements defaults.Setter.
func (c *MainConfig) SetDefaults() {
	if defaults.CanUpdate(c.CacheDir) {
		c.CacheDir = filepath.Join(xdg.CacheHome, AppName, "icons")
	}
}

type LoggingConfig struct {
	Level   string         `json:"level" env:"LEVEL" default:"info"`
	Console bool           `json:"console" env:"CONSOLE" default:"true"`
	File    LoggingFile    `json:"file" envPrefix:"FILE_"`
	Journal bool           `json:"journal" env:"JOURNAL"`
	Desktop LoggingDesktop `json:"desktop" envPrefix:"DESKTOP_"`
}

// SetDefaults enables the journal sink when started as a systemd notify service.
func (c *LoggingConfig) SetDefaults() {
	if _, ok := os.LookupEnv("NOTIFY_SOCKET"); ok {
		c.Journal = true
	}
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path" env:"PATH"`
}

// LoggingDesktop mirrors warnings and errors as desktop notifications.
type LoggingDesktop struct {
	Enabled       bool   `json:"enabled" env:"ENABLED"`
	MinLevel      string `json:"min_level" env:"MIN_LEVEL" default:"error"`
	RatePerMinute int    `json:"rate_per_minute" env:"RATE_PER_MINUTE" default:"6"`
}

// Get returns the raw value of option in section.
// A missing section or option is reported with ok=false, never an error.
func (c *Config) Get(section, option string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.sections[section][option]
	return v, ok
}

// HasSection reports whether any file defined section.
func (c *Config) HasSection(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.sections[name]
	return ok
}

// Sections returns the defined section names, sorted.
func (c *Config) Sections() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.sections))
	for k := range c.sections {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EnabledPlugins splits main.enabled_plugins into identifiers.
func (c *Config) EnabledPlugins() []string {
	if c == nil {
		return SplitList(DefaultEnabledPlugins)
	}
	return SplitList(c.Main.EnabledPlugins)
}

// Default returns the configuration used when no file is found.
func Default() (*Config, error) {
	return build(nil, nil)
}
