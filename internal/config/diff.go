package config

import (
	"maps"
	"sort"
	"strings"

	logx "sysnotifier/pkg/logx"
)

// SummarizeChange returns (1) the sections whose effective content changed
// and (2) structured attrs describing the logging change, if any.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	set := map[string]struct{}{}
	for k := range oldCfg.sections {
		set[k] = struct{}{}
	}
	for k := range newCfg.sections {
		set[k] = struct{}{}
	}

	changed := make([]string, 0, len(set))
	for name := range set {
		if name == "logging" {
			continue
		}
		if !maps.Equal(oldCfg.sections[name], newCfg.sections[name]) {
			changed = append(changed, name)
		}
	}

	var attrs []logx.Field
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.journal", newCfg.Logging.Journal),
			logx.Bool("logging.desktop_enabled", newCfg.Logging.Desktop.Enabled),
		)
	}
	sort.Strings(changed)
	return changed, attrs
}

// LogConfig converts the logging section into the logx service config.
func (c LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   strings.TrimSpace(c.Level),
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Journal: c.Journal,
		Desktop: logx.DesktopConfig{
			Enabled:       c.Desktop.Enabled,
			MinLevel:      c.Desktop.MinLevel,
			RatePerMinute: c.Desktop.RatePerMinute,
		},
	}
}
