// Package brightness reports backlight changes as a progress notification.
package brightness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/godbus/dbus/v5"

	"sysnotifier/internal/dbusx"
	"sysnotifier/internal/plugin"
	logx "sysnotifier/pkg/logx"
)

const Name = "brightness"

const (
	defaultBacklightDir = "/sys/class/backlight"
	replaceKey          = "brightness"
)

var errNoBacklight = errors.New("no backlight device found")

type Plugin struct {
	ctx *plugin.Context
	log logx.Logger
	dir string

	high, medium, low string

	watcher     *fsnotify.Watcher
	unsubscribe func()
	pending     atomic.Pointer[string]
}

// New watches the brightness files below backlight_dir and, unless dbus is
// off, PropertiesChanged signals carrying a SysFSPath on backlight objects.
// Options: backlight_dir, dbus, high_icon, medium_icon, low_icon.
func New(ctx *plugin.Context) (plugin.Watcher, error) {
	p := newPlugin(ctx)

	var errs []error
	if err := p.watchFiles(); err != nil {
		errs = append(errs, err)
	}
	if ctx.GetBool("dbus", true) {
		if err := p.watchBus(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.watcher == nil && p.unsubscribe == nil {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		p.log.Warn("brightness source unavailable", logx.Err(err))
	}
	return p, nil
}

func newPlugin(ctx *plugin.Context) *Plugin {
	return &Plugin{
		ctx:    ctx,
		log:    ctx.Log,
		dir:    ctx.GetString("backlight_dir", defaultBacklightDir),
		high:   ctx.Icon("high_icon", "display-brightness-high-symbolic"),
		medium: ctx.Icon("medium_icon", "display-brightness-medium-symbolic"),
		low:    ctx.Icon("low_icon", "display-brightness-low-symbolic"),
	}
}

func (p *Plugin) watchFiles() error {
	devices, err := p.devices()
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("backlight watcher: %w", err)
	}
	added := 0
	for _, dev := range devices {
		file := filepath.Join(dev, "brightness")
		if err := w.Add(file); err != nil {
			p.log.Debug("cannot watch backlight", logx.String("file", file), logx.Err(err))
			continue
		}
		added++
	}
	if added == 0 {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", p.dir, errNoBacklight)
	}
	p.watcher = w
	p.ctx.Loop().Go(Name+".files", p.readEvents)
	return nil
}

func (p *Plugin) readEvents(ctx context.Context) error {
	w := p.watcher
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) {
				p.schedule(filepath.Dir(ev.Name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("backlight watch error", logx.Err(err))
		}
	}
}

func (p *Plugin) watchBus() error {
	bus, err := p.ctx.SystemBus()
	if err != nil {
		return err
	}
	m := dbusx.Match{Interface: dbusx.PropertiesInterface, Member: "PropertiesChanged"}
	unsub, err := bus.Subscribe(Name, m, p.onSignal)
	if err != nil {
		return fmt.Errorf("subscribe backlight signals: %w", err)
	}
	p.unsubscribe = unsub
	p.log.Info("subscribed to backlight signals")
	return nil
}

func (p *Plugin) Close() error {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func (p *Plugin) onSignal(sig *dbus.Signal) {
	if !strings.Contains(string(sig.Path), "backlight") {
		return
	}
	pc, ok := dbusx.ParsePropertiesChanged(sig)
	if !ok {
		return
	}
	if sysfs, ok := dbusx.Value[string](pc.Changed, "SysFSPath"); ok {
		p.update(sysfs)
	}
}

// schedule coalesces bursts of file events into one loop update.
func (p *Plugin) schedule(device string) {
	if p.pending.Swap(&device) != nil {
		return
	}
	p.ctx.Loop().Post(Name+".update", func() {
		if dev := p.pending.Swap(nil); dev != nil {
			p.update(*dev)
		}
	})
}

// devices lists backlight device directories, sorted.
func (p *Plugin) devices() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.dir, err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, filepath.Join(p.dir, e.Name()))
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", p.dir, errNoBacklight)
	}
	return out, nil
}

func (p *Plugin) update(sysfs string) {
	if sysfs == "" {
		devs, err := p.devices()
		if err != nil {
			p.log.Warn("backlight lookup failed", logx.Err(err))
			return
		}
		sysfs = devs[0]
	}
	pct, err := readPercent(sysfs)
	if err != nil {
		p.log.Warn("brightness read failed", logx.String("device", sysfs), logx.Err(err))
		return
	}
	err = p.ctx.Notify(fmt.Sprintf("Brightness: %d%%", pct),
		plugin.WithIcon(p.iconFor(pct)),
		plugin.WithProgress(pct),
		plugin.WithReplaceKey(replaceKey),
	)
	if err != nil {
		p.log.Warn("notification failed", logx.Err(err))
	}
}

func (p *Plugin) iconFor(pct int) string {
	switch {
	case pct >= 75:
		return p.high
	case pct >= 35:
		return p.medium
	default:
		return p.low
	}
}

func readPercent(sysfs string) (int, error) {
	cur, err := readInt(filepath.Join(sysfs, "actual_brightness"))
	if err != nil {
		return 0, err
	}
	maxB, err := readInt(filepath.Join(sysfs, "max_brightness"))
	if err != nil {
		return 0, err
	}
	if maxB <= 0 {
		return 0, fmt.Errorf("%s: max_brightness is %d", sysfs, maxB)
	}
	return cur * 100 / maxB, nil
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
