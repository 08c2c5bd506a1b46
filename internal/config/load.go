package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
)

// ErrNotFound is returned when an explicitly requested config file does not exist.
var ErrNotFound = errors.New("config file not found")

// EnvPrefix prefixes every environment override, e.g. SYSTEM_NOTIFIER_ENABLED_PLUGINS.
const EnvPrefix = "SYSTEM_NOTIFIER_"

var fileNames = []string{"config.yaml", "config.yml", "config.json"}

// SearchPaths returns the default candidate files in merge order:
// the working directory first, then $XDG_CONFIG_HOME/system-notifier.
func SearchPaths() []string {
	out := make([]string, 0, 2*len(fileNames))
	out = append(out, fileNames...)
	for _, n := range fileNames {
		out = append(out, filepath.Join(xdg.ConfigHome, AppName, n))
	}
	return out
}

// parseFile decodes one YAML or JSON file into a section tree.
// Numbers stay json.Number so integers are not rendered as floats.
func parseFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	jb, format, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(bytes.TrimSpace(jb)) == 0 {
		return map[string]any{}, nil
	}

	var tree map[string]any
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", path, format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s: trailing data", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for name, v := range tree {
		switch v.(type) {
		case nil:
			tree[name] = map[string]any{}
		case map[string]any:
		default:
			return nil, fmt.Errorf("%s: section %q must be a mapping", path, name)
		}
	}
	return tree, nil
}

// merge copies src into dst option by option; nested mappings merge recursively.
func merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sm, sok := v.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			dst[k] = merge(dm, sm)
			continue
		}
		dst[k] = v
	}
	return dst
}

// build turns a merged tree into a Config: defaults, then file values,
// then environment overrides.
func build(tree map[string]any, files []string) (*Config, error) {
	cfg := &Config{
		Files:    files,
		sections: make(map[string]map[string]string, len(tree)),
	}
	for name, v := range tree {
		sec := map[string]string{}
		if m, ok := v.(map[string]any); ok {
			flatten("", m, sec)
		}
		cfg.sections[name] = sec
	}

	if err := defaults.Set(&cfg.Main); err != nil {
		return nil, fmt.Errorf("main defaults: %w", err)
	}
	if sec, ok := cfg.sections["main"]; ok {
		b, err := json.Marshal(sec)
		if err != nil {
			return nil, fmt.Errorf("main: %w", err)
		}
		if err := json.Unmarshal(b, &cfg.Main); err != nil {
			return nil, fmt.Errorf("main: %w", err)
		}
	}

	if err := defaults.Set(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("logging defaults: %w", err)
	}
	if raw, ok := tree["logging"]; ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg.Logging); err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg.Main, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Logging, env.Options{Prefix: EnvPrefix + "LOG_"}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	cfg.syncMain()
	return cfg, nil
}

// syncMain writes the effective main options back so Get("main", ...)
// agrees with the typed view after defaults and environment overrides.
func (c *Config) syncMain() {
	sec := c.sections["main"]
	if sec == nil {
		sec = map[string]string{}
		c.sections["main"] = sec
	}
	set := func(k, v string) {
		if v != "" {
			sec[k] = v
		}
	}
	set("enabled_plugins", c.Main.EnabledPlugins)
	set("timeout", c.Main.Timeout)
	set("cache_dir", c.Main.CacheDir)
	set("icon_theme_dir", c.Main.IconThemeDir)
	set("sink", c.Main.Sink)
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			flatten(key, m, out)
			continue
		}
		out[key] = stringify(v)
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// SplitList splits a comma separated list, trimming blanks and dropping empties.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
