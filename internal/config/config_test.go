package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestParseYAMLSections(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	writeFile(t, p, `
main:
  enabled_plugins: [battery, volume_pactl]
  timeout: 5000
battery:
  low_message: "Battery low"
  poll: "@every 1m"
volume_pactl:
  timeout: 1500
  on: true
logging:
  level: debug
  desktop:
    enabled: true
    rate_per_minute: 3
`)

	cfg, err := NewManager(p).Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"battery", "volume_pactl"}, cfg.EnabledPlugins())
	v, ok := cfg.Get("main", "timeout")
	assert.True(t, ok)
	assert.Equal(t, "5000", v)
	v, ok = cfg.Get("battery", "low_message")
	assert.True(t, ok)
	assert.Equal(t, "Battery low", v)
	v, _ = cfg.Get("volume_pactl", "on")
	assert.Equal(t, "true", v)

	_, ok = cfg.Get("battery", "missing")
	assert.False(t, ok)
	_, ok = cfg.Get("nope", "timeout")
	assert.False(t, ok)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)
	assert.True(t, cfg.Logging.Desktop.Enabled)
	assert.Equal(t, 3, cfg.Logging.Desktop.RatePerMinute)
	assert.Equal(t, "error", cfg.Logging.Desktop.MinLevel)
	assert.Equal(t, []string{p}, cfg.Files)
}

func TestDefaultsWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager("", WithSearchPaths(filepath.Join(dir, "config.yaml")))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Files)
	assert.Equal(t, []string{"battery", "volume_pactl", "iwd"}, cfg.EnabledPlugins())
	assert.Equal(t, "/usr/share/icons/breeze", cfg.Main.IconThemeDir)
	assert.Equal(t, "dbus", cfg.Main.Sink)
	assert.NotEmpty(t, cfg.Main.CacheDir)

	v, ok := cfg.Get("main", "icon_theme_dir")
	assert.True(t, ok)
	assert.Equal(t, cfg.Main.IconThemeDir, v)
	_, ok = cfg.Get("main", "timeout")
	assert.False(t, ok)
}

func TestExplicitMissingFileIsNotFound(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMergeLaterFileWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a", "config.yaml")
	second := filepath.Join(dir, "b", "config.json")
	writeFile(t, first, "main:\n  sink: beeep\nbattery:\n  on_message: plugged\n  off_message: unplugged\n")
	writeFile(t, second, `{"battery": {"on_message": "charging"}}`)

	cfg, err := NewManager("", WithSearchPaths(first, second)).Load()
	require.NoError(t, err)

	v, _ := cfg.Get("battery", "on_message")
	assert.Equal(t, "charging", v)
	v, _ = cfg.Get("battery", "off_message")
	assert.Equal(t, "unplugged", v)
	assert.Equal(t, "beeep", cfg.Main.Sink)
	assert.Len(t, cfg.Files, 2)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	writeFile(t, p, "main:\n  enabled_plugins: battery\n")
	t.Setenv(EnvPrefix+"ENABLED_PLUGINS", "dummy, iwd")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "warn")

	cfg, err := NewManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"dummy", "iwd"}, cfg.EnabledPlugins())
	v, _ := cfg.Get("main", "enabled_plugins")
	assert.Equal(t, "dummy, iwd", v)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestRejectsInvalidContent(t *testing.T) {
	dir := t.TempDir()

	scalar := filepath.Join(dir, "scalar.yaml")
	writeFile(t, scalar, "main: 3\n")
	_, err := NewManager(scalar).Load()
	assert.ErrorContains(t, err, `section "main" must be a mapping`)

	unknown := filepath.Join(dir, "unknown.json")
	writeFile(t, unknown, `{"logging": {"colour": true}}`)
	_, err = NewManager(unknown).Load()
	assert.Error(t, err)

	trailing := filepath.Join(dir, "trailing.json")
	writeFile(t, trailing, `{"main": {}} {}`)
	_, err = NewManager(trailing).Load()
	assert.ErrorContains(t, err, "trailing data")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"battery", "volume_pactl", "iwd"}, SplitList(" battery,volume_pactl , ,iwd,"))
	assert.Nil(t, SplitList(" , "))
}

func TestParseTimeout(t *testing.T) {
	cases := []struct {
		in   string
		want int32
		ok   bool
		err  bool
	}{
		{in: "", ok: false},
		{in: "5000", want: 5000, ok: true},
		{in: "-1", want: -1, ok: true},
		{in: "0", want: 0, ok: true},
		{in: "2s", want: 2000, ok: true},
		{in: "1m30s", want: 90000, ok: true},
		{in: "-5", err: true},
		{in: "soon", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok, err := ParseTimeout(tc.in)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	writeFile(t, p, "battery:\n  poll: '@every 1m'\nlogging:\n  level: info\n")
	m := NewManager(p)
	oldCfg, err := m.Load()
	require.NoError(t, err)

	writeFile(t, p, "battery:\n  poll: '@every 5m'\nlogging:\n  level: debug\n")
	newCfg, err := m.Parse()
	require.NoError(t, err)

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"battery", "logging"}, changed)
	assert.NotEmpty(t, attrs)
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	writeFile(t, p, "logging:\n  level: info\n")

	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, p, "logging:\n  level: debug\n")

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, cfg, m.Get())
	case <-time.After(3 * time.Second):
		t.Fatal("no config published after change")
	}

	cancel()
	assert.NoError(t, <-done)
}
