package plugin

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysnotifier/internal/notify"
	"sysnotifier/internal/notify/notifytest"
	logx "sysnotifier/pkg/logx"
)

type mapConfig map[string]map[string]string

func (m mapConfig) Get(section, option string) (string, bool) {
	v, ok := m[section][option]
	return v, ok
}

type fakeIcons map[string]string

func (f fakeIcons) Resolve(name string) string { return f[name] }

func newDeps(cfg mapConfig, sink notify.Sink) Deps {
	return Deps{Logger: logx.Nop(), Config: cfg, Icons: fakeIcons{"battery-low": "/cache/battery-low.png"}, Sink: sink}
}

func last(t *testing.T, rec *notifytest.Recorder) notifytest.Shown {
	t.Helper()
	s, ok := rec.Last()
	require.True(t, ok, "nothing shown")
	return s
}

func TestNotifyReplaceKeyUpdatesInPlace(t *testing.T) {
	rec := notifytest.New()
	ctx := NewContext("battery", newDeps(nil, rec))

	require.NoError(t, ctx.Notify("Battery", WithBody("20%"), WithReplaceKey("level"), WithProgress(20)))
	require.NoError(t, ctx.Notify("Battery", WithBody("19%"), WithReplaceKey("level"), WithProgress(19)))
	require.NoError(t, ctx.Notify("Unplugged"))

	shown := rec.Shown()
	require.Len(t, shown, 3)
	assert.Equal(t, notify.ID(0), shown[0].ReplacesID)
	assert.Equal(t, shown[0].ID, shown[1].ReplacesID)
	assert.Equal(t, shown[0].ID, shown[1].ID)
	assert.NotEqual(t, shown[0].ID, shown[2].ID)
	require.NotNil(t, shown[1].Progress)
	assert.Equal(t, 19, *shown[1].Progress)
	assert.Nil(t, shown[2].Progress)
}

func TestNotifyDefaults(t *testing.T) {
	rec := notifytest.New()
	ctx := NewContext("battery", newDeps(nil, rec))

	require.NoError(t, ctx.Notify("Battery", WithProgress(140), WithUrgency(notify.UrgencyCritical)))
	require.NoError(t, ctx.Notify("Battery", WithProgress(0), WithTimeout(0)))

	shown := rec.Shown()
	assert.Equal(t, int32(-1), shown[0].Timeout)
	assert.Equal(t, notify.UrgencyCritical, shown[0].Urgency)
	assert.Equal(t, 100, *shown[0].Progress)
	assert.Equal(t, notify.UrgencyNormal, shown[1].Urgency)
	assert.Equal(t, int32(0), shown[1].Timeout)
	require.NotNil(t, shown[1].Progress)
	assert.Equal(t, 0, *shown[1].Progress)
}

func TestNotifyFailureKeepsPreviousID(t *testing.T) {
	rec := notifytest.New()
	ctx := NewContext("volume_pactl", newDeps(nil, rec))

	require.NoError(t, ctx.Notify("Volume", WithReplaceKey("volume")))
	first := last(t, rec).ID

	rec.ShowErr = notify.ErrUnavailable
	err := ctx.Notify("Volume", WithReplaceKey("volume"))
	require.ErrorIs(t, err, notify.ErrUnavailable)

	rec.ShowErr = nil
	require.NoError(t, ctx.Notify("Volume", WithReplaceKey("volume")))
	assert.Equal(t, first, last(t, rec).ReplacesID)
}

func TestCloseRetractsOnce(t *testing.T) {
	rec := notifytest.New()
	ctx := NewContext("battery", newDeps(nil, rec))

	require.NoError(t, ctx.Close("missing"))
	assert.Empty(t, rec.Closed())

	require.NoError(t, ctx.Notify("Low battery", WithReplaceKey("warning")))
	id := last(t, rec).ID

	rec.CloseErr = errors.New("boom")
	require.Error(t, ctx.Close("warning"))

	rec.CloseErr = nil
	require.NoError(t, ctx.Close("warning"))
	require.NoError(t, ctx.Close("warning"))
	assert.Equal(t, []notify.ID{id}, rec.Closed())

	require.NoError(t, ctx.Notify("Low battery", WithReplaceKey("warning")))
	assert.Equal(t, notify.ID(0), last(t, rec).ReplacesID)
}

func TestTimeoutResolution(t *testing.T) {
	cases := []struct {
		name string
		cfg  mapConfig
		want int32
	}{
		{"default", nil, -1},
		{"main", mapConfig{"main": {"timeout": "3000"}}, 3000},
		{"watcher wins", mapConfig{"main": {"timeout": "3000"}, "battery": {"timeout": "5s"}}, 5000},
		{"invalid watcher falls back", mapConfig{"main": {"timeout": "0"}, "battery": {"timeout": "soon"}}, 0},
		{"invalid everywhere", mapConfig{"main": {"timeout": "-7"}}, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := NewContext("battery", newDeps(tc.cfg, notifytest.New()))
			assert.Equal(t, tc.want, ctx.Timeout())
		})
	}
}

func TestContextOptions(t *testing.T) {
	cfg := mapConfig{"battery": {
		"critical_level": "4",
		"poll":           "yes",
		"bogus_bool":     "maybe",
		"interval":       "750ms",
		"low_icon":       "battery-low",
	}}
	ctx := NewContext("battery", newDeps(cfg, notifytest.New()))

	assert.Equal(t, 4, ctx.GetInt("critical_level", 3))
	assert.Equal(t, 3, ctx.GetInt("missing", 3))
	assert.True(t, ctx.GetBool("poll", false))
	assert.True(t, ctx.GetBool("bogus_bool", true))
	assert.Equal(t, 750*time.Millisecond, ctx.GetDuration("interval", time.Second))
	assert.Equal(t, "fallback", ctx.GetString("missing", "fallback"))

	assert.Equal(t, "/cache/battery-low.png", ctx.Icon("low_icon", "unused"))
	assert.Equal(t, "/cache/battery-low.png", ctx.Icon("missing_icon", "battery-low"))
	assert.Equal(t, "", ctx.Icon("missing_icon", "no-such-icon"))

	_, err := ctx.SystemBus()
	assert.Error(t, err)
}

func TestEnabledList(t *testing.T) {
	assert.Equal(t, []string{"battery", "volume_pactl", "iwd"}, EnabledList(nil, ""))
	assert.Equal(t, []string{"dummy", "iwd"}, EnabledList(mapConfig{"main": {"enabled_plugins": "dummy, iwd, dummy"}}, ""))
	assert.Equal(t, []string{"battery"}, EnabledList(mapConfig{"main": {"enabled_plugins": "dummy"}}, " battery "))
}

func TestLoadAllIsolatesFailures(t *testing.T) {
	rec := notifytest.New()
	cfg := mapConfig{"main": {"enabled_plugins": "good, broken, panicky, unknown, quiet"}}
	reg := NewRegistry(logx.Nop(), newDeps(cfg, rec))

	var closed []string
	reg.Register("good", func(ctx *Context) (Watcher, error) {
		require.NoError(t, ctx.Notify("hello from "+ctx.Name()))
		return WatcherFunc(func() error { closed = append(closed, "good"); return nil }), nil
	})
	reg.Register("broken", func(*Context) (Watcher, error) { return nil, errors.New("no upower") })
	reg.Register("panicky", func(*Context) (Watcher, error) { panic("nil map") })
	reg.Register("quiet", func(*Context) (Watcher, error) {
		return WatcherFunc(func() error { closed = append(closed, "quiet"); return errors.New("already gone") }), nil
	})

	assert.Equal(t, []string{"broken", "good", "panicky", "quiet"}, reg.Names())

	loaded := reg.LoadAll("")
	require.Len(t, loaded, 2)
	assert.Equal(t, "good", loaded[0].Name)
	assert.Equal(t, "quiet", loaded[1].Name)
	assert.Equal(t, "hello from good", last(t, rec).Summary)

	err := reg.CloseAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quiet")
	assert.Equal(t, []string{"quiet", "good"}, closed)
	assert.NoError(t, reg.CloseAll())
}

func TestLoadAllNilWatcher(t *testing.T) {
	reg := NewRegistry(logx.Nop(), newDeps(nil, notifytest.New()))
	reg.Register("dummy", func(*Context) (Watcher, error) { return nil, nil })

	loaded := reg.LoadAll("dummy")
	require.Len(t, loaded, 1)
	assert.NoError(t, reg.CloseAll())
}
