// Package battery reports power supply and battery warning changes from UPower.
package battery

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"sysnotifier/internal/dbusx"
	"sysnotifier/internal/notify"
	"sysnotifier/internal/plugin"
	logx "sysnotifier/pkg/logx"
)

const Name = "battery"

const (
	upowerDest  = "org.freedesktop.UPower"
	upowerPath  = "/org/freedesktop/UPower"
	deviceIface = "org.freedesktop.UPower.Device"
	devicesNS   = dbus.ObjectPath("/org/freedesktop/UPower/devices")

	// UPower device types and warning levels.
	typeLinePower   uint32 = 1
	typeBattery     uint32 = 2
	warningLow      uint32 = 3
	warningCritical uint32 = 4

	replaceKey  = "power"
	callTimeout = 5 * time.Second
)

var defaults = map[string][2]string{
	"on":       {"Power adapter connected", "ac-adapter"},
	"off":      {"Power adapter disconnected", "battery-full"},
	"low":      {"Battery level is low", "battery-low"},
	"critical": {"Battery level is critical!", "battery-caution"},
}

type Plugin struct {
	ctx *plugin.Context
	log logx.Logger

	messages map[string]string
	icons    map[string]string

	// device type and last warning level per UPower object, touched only on the loop
	kinds    map[dbus.ObjectPath]uint32
	warnings map[dbus.ObjectPath]uint32

	property func(path dbus.ObjectPath, name string) (dbus.Variant, error)

	unsubscribe func()
	cancelPoll  func()
}

func newPlugin(ctx *plugin.Context) *Plugin {
	p := &Plugin{
		ctx:      ctx,
		log:      ctx.Log,
		messages: map[string]string{},
		icons:    map[string]string{},
		kinds:    map[dbus.ObjectPath]uint32{},
		warnings: map[dbus.ObjectPath]uint32{},
	}
	for key, d := range defaults {
		p.messages[key] = ctx.GetString(key+"_message", d[0])
		p.icons[key] = ctx.Icon(key+"_icon", d[1])
	}
	return p
}

// New enumerates UPower devices and subscribes to their property changes.
// Options: {on,off,low,critical}_message, {on,off,low,critical}_icon and
// poll, a cron spec for re-reading warning levels.
func New(ctx *plugin.Context) (plugin.Watcher, error) {
	bus, err := ctx.SystemBus()
	if err != nil {
		return nil, err
	}
	p := newPlugin(ctx)
	p.property = func(path dbus.ObjectPath, name string) (dbus.Variant, error) {
		c, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return dbusx.Get(c, bus.Object(upowerDest, path), deviceIface, name)
	}

	paths, err := enumerate(bus)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		kind := p.kind(path)
		switch kind {
		case typeLinePower:
			p.log.Info("power device found", logx.String("path", string(path)))
		case typeBattery:
			p.log.Info("battery found", logx.String("path", string(path)))
			if v, err := p.property(path, "WarningLevel"); err == nil {
				p.warnings[path], _ = v.Value().(uint32)
			}
		}
	}

	unsub, err := bus.Subscribe(Name, dbusx.PropertiesChangedMatch(upowerDest, devicesNS, deviceIface), p.onSignal)
	if err != nil {
		return nil, fmt.Errorf("subscribe upower: %w", err)
	}
	p.unsubscribe = unsub

	if spec := ctx.GetString("poll", ""); spec != "" {
		cancel, err := ctx.Loop().Every(spec, Name+".poll", p.poll)
		if err != nil {
			p.log.Warn("invalid poll schedule, polling disabled", logx.String("poll", spec), logx.Err(err))
		} else {
			p.cancelPoll = cancel
		}
	}
	return p, nil
}

func enumerate(bus *dbusx.Conn) ([]dbus.ObjectPath, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	var paths []dbus.ObjectPath
	err := bus.Object(upowerDest, upowerPath).
		CallWithContext(ctx, upowerDest+".EnumerateDevices", 0).
		Store(&paths)
	if err != nil {
		return nil, fmt.Errorf("enumerate upower devices: %w", err)
	}
	return paths, nil
}

func (p *Plugin) Close() error {
	if p.cancelPoll != nil {
		p.cancelPoll()
	}
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	return nil
}

// kind returns the cached UPower device type, asking the bus for devices
// that appeared after startup. 0 means unknown.
func (p *Plugin) kind(path dbus.ObjectPath) uint32 {
	if k, ok := p.kinds[path]; ok {
		return k
	}
	if p.property == nil {
		return 0
	}
	v, err := p.property(path, "Type")
	if err != nil {
		p.log.Debug("device type lookup failed", logx.String("path", string(path)), logx.Err(err))
		return 0
	}
	k, _ := v.Value().(uint32)
	p.kinds[path] = k
	return k
}

func (p *Plugin) onSignal(sig *dbus.Signal) {
	pc, ok := dbusx.ParsePropertiesChanged(sig)
	if !ok || pc.Interface != deviceIface {
		return
	}
	p.handle(pc.Path, pc.Changed)
}

func (p *Plugin) handle(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	switch p.kind(path) {
	case typeLinePower:
		if online, ok := dbusx.Value[bool](changed, "Online"); ok {
			p.lineChanged(online)
		}
	case typeBattery:
		if level, ok := dbusx.Value[uint32](changed, "WarningLevel"); ok {
			p.warningChanged(path, level)
		}
	}
}

func (p *Plugin) lineChanged(online bool) {
	key := "off"
	if online {
		key = "on"
	}
	p.show(key, notify.UrgencyNormal)
}

// warningChanged notifies when a battery enters the low or critical level.
func (p *Plugin) warningChanged(path dbus.ObjectPath, level uint32) {
	prev, seen := p.warnings[path]
	p.warnings[path] = level
	if seen && prev == level {
		return
	}
	switch level {
	case warningLow:
		p.show("low", notify.UrgencyLow)
	case warningCritical:
		p.show("critical", notify.UrgencyCritical)
	}
}

func (p *Plugin) poll() {
	for path, kind := range p.kinds {
		if kind != typeBattery {
			continue
		}
		v, err := p.property(path, "WarningLevel")
		if err != nil {
			p.log.Debug("warning level poll failed", logx.String("path", string(path)), logx.Err(err))
			continue
		}
		if level, ok := v.Value().(uint32); ok {
			p.warningChanged(path, level)
		}
	}
}

func (p *Plugin) show(key string, u notify.Urgency) {
	err := p.ctx.Notify(p.messages[key],
		plugin.WithIcon(p.icons[key]),
		plugin.WithUrgency(u),
		plugin.WithReplaceKey(replaceKey),
	)
	if err != nil {
		p.log.Warn("notification failed", logx.String("event", key), logx.Err(err))
	}
}
