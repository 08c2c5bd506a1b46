package plugin

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"sysnotifier/internal/config"
	"sysnotifier/internal/dbusx"
	"sysnotifier/internal/eventloop"
	"sysnotifier/internal/notify"
	logx "sysnotifier/pkg/logx"
)

// ConfigSource is the read-only configuration shared by every context.
type ConfigSource interface {
	Get(section, option string) (string, bool)
}

// IconResolver maps icon names to displayable files; "" means no icon.
type IconResolver interface {
	Resolve(name string) string
}

// Deps is the bundle of shared resources handed to every watcher context.
type Deps struct {
	Logger logx.Logger
	Config ConfigSource
	Icons  IconResolver
	Sink   notify.Sink
	Loop   *eventloop.Loop
	Buses  *dbusx.Buses
}

// Context is a watcher's view of the process: its configuration section,
// icons, notifications keyed by replace key, the event loop and the buses.
//
// Watchers call it from loop handlers. The active table is mutex-guarded,
// so calls from elsewhere stay consistent and per-key updates stay ordered.
type Context struct {
	Log logx.Logger

	name    string
	cfg     ConfigSource
	icons   IconResolver
	sink    notify.Sink
	loop    *eventloop.Loop
	buses   *dbusx.Buses
	timeout int32

	mu     sync.Mutex
	active map[string]notify.ID
}

func NewContext(name string, deps Deps) *Context {
	c := &Context{
		Log:    deps.Logger.With(logx.String("plugin", name)),
		name:   name,
		cfg:    deps.Config,
		icons:  deps.Icons,
		sink:   deps.Sink,
		loop:   deps.Loop,
		buses:  deps.Buses,
		active: map[string]notify.ID{},
	}
	c.timeout = c.resolveTimeout()
	return c
}

// resolveTimeout picks the watcher's own timeout, then main.timeout, then
// the service default.
func (c *Context) resolveTimeout() int32 {
	for _, section := range []string{c.name, "main"} {
		raw, ok := c.lookup(section, "timeout")
		if !ok {
			continue
		}
		ms, ok, err := config.ParseTimeout(raw)
		if err != nil {
			c.Log.Warn("ignoring invalid timeout", logx.String("section", section), logx.String("value", raw), logx.Err(err))
			continue
		}
		if ok {
			return ms
		}
	}
	return config.DefaultTimeout
}

func (c *Context) lookup(section, option string) (string, bool) {
	if c.cfg == nil {
		return "", false
	}
	return c.cfg.Get(section, option)
}

func (c *Context) Name() string { return c.name }

// Timeout is the default expire timeout in ms for this watcher's notifications.
func (c *Context) Timeout() int32 { return c.timeout }

func (c *Context) Loop() *eventloop.Loop { return c.loop }

func (c *Context) SystemBus() (*dbusx.Conn, error) {
	if c.buses == nil {
		return nil, fmt.Errorf("system bus: %w", errNoBuses)
	}
	return c.buses.System()
}

func (c *Context) SessionBus() (*dbusx.Conn, error) {
	if c.buses == nil {
		return nil, fmt.Errorf("session bus: %w", errNoBuses)
	}
	return c.buses.Session()
}

// Get reads option from the watcher's own section.
func (c *Context) Get(option string) (string, bool) {
	return c.lookup(c.name, option)
}

// GetString returns the option or fallback when it is missing.
func (c *Context) GetString(option, fallback string) string {
	if v, ok := c.Get(option); ok {
		return v
	}
	return fallback
}

// GetInt returns the option as an int; missing or malformed values yield fallback.
func (c *Context) GetInt(option string, fallback int) int {
	v, ok := c.Get(option)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.Log.Warn("invalid integer option", logx.String("option", option), logx.String("value", v))
		return fallback
	}
	return n
}

// GetBool accepts 1/0, true/false, yes/no and on/off.
func (c *Context) GetBool(option string, fallback bool) bool {
	v, ok := c.Get(option)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	c.Log.Warn("invalid boolean option", logx.String("option", option), logx.String("value", v))
	return fallback
}

// GetDuration parses a Go duration option ("750ms", "5s").
func (c *Context) GetDuration(option string, fallback time.Duration) time.Duration {
	v, ok := c.Get(option)
	if !ok {
		return fallback
	}
	d, err := config.ParseDurationField(c.name+"."+option, v)
	if err != nil || d == 0 {
		if err != nil {
			c.Log.Warn("invalid duration option", logx.Err(err))
		}
		return fallback
	}
	return d
}

// Icon resolves the icon named by configKey (or fallback) to a file path.
// Any failure yields "" and the notification is shown without an icon.
func (c *Context) Icon(configKey, fallback string) string {
	if c.icons == nil {
		return ""
	}
	return c.icons.Resolve(c.GetString(configKey, fallback))
}

// Notify shows a notification. With a replace key whose notification is
// still tracked, the existing notification is updated in place.
func (c *Context) Notify(summary string, opts ...NotifyOption) error {
	req := request{urgency: notify.UrgencyNormal}
	for _, o := range opts {
		o(&req)
	}

	n := notify.Notification{
		Summary: summary,
		Body:    req.body,
		Icon:    req.icon,
		Urgency: req.urgency,
		Timeout: c.timeout,
	}
	if req.timeout != nil {
		n.Timeout = *req.timeout
	}
	if req.progress != nil {
		p := notify.ClampProgress(*req.progress)
		n.Progress = &p
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if req.replaceKey != "" {
		n.ReplacesID = c.active[req.replaceKey]
	}
	id, err := c.sink.Show(n)
	if err != nil {
		return fmt.Errorf("notify %q: %w", summary, err)
	}
	if req.replaceKey != "" {
		c.active[req.replaceKey] = id
	}
	if c.Log.Enabled(logx.LevelTrace) {
		c.Log.Trace("notification shown", logx.Uint32("id", uint32(id)), logx.String("replace_key", req.replaceKey))
	}
	return nil
}

// Close retracts the notification tracked under replaceKey. Unknown keys
// are a no-op. The entry stays tracked if the service reports an error.
func (c *Context) Close(replaceKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.active[replaceKey]
	if !ok {
		return nil
	}
	if err := c.sink.Close(id); err != nil {
		return fmt.Errorf("close %q: %w", replaceKey, err)
	}
	delete(c.active, replaceKey)
	return nil
}
