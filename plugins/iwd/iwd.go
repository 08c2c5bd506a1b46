// Package iwd reports wireless connection changes from iwd stations.
package iwd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/godbus/dbus/v5"

	"sysnotifier/internal/dbusx"
	"sysnotifier/internal/plugin"
	logx "sysnotifier/pkg/logx"
)

const Name = "iwd"

const (
	iwdDest      = "net.connman.iwd"
	stationIface = "net.connman.iwd.Station"
	networkIface = "net.connman.iwd.Network"

	replaceKey  = "network"
	callTimeout = 5 * time.Second
)

var errNoNetwork = errors.New("station has no connected network")

// subscriber is the part of dbusx.Conn the watcher uses.
type subscriber interface {
	Subscribe(name string, m dbusx.Match, h dbusx.SignalHandler) (func(), error)
}

type Plugin struct {
	ctx *plugin.Context
	log logx.Logger
	bus subscriber

	connectedIcon    string
	disconnectedIcon string

	// ssid resolves the SSID of the network a station is connected to.
	ssid func(station dbus.ObjectPath) (string, error)

	stations map[dbus.ObjectPath]func()
	unsubs   []func()
}

// New follows iwd's ObjectManager for stations and watches their State.
// Options: connected_icon, disconnected_icon.
func New(ctx *plugin.Context) (plugin.Watcher, error) {
	bus, err := ctx.SystemBus()
	if err != nil {
		return nil, err
	}
	p := newPlugin(ctx, bus)
	p.ssid = func(station dbus.ObjectPath) (string, error) { return lookupSSID(bus, station) }

	for _, member := range []string{"InterfacesAdded", "InterfacesRemoved"} {
		m := dbusx.Match{Sender: iwdDest, Interface: dbusx.ObjectManager, Member: member}
		unsub, err := bus.Subscribe(Name+"."+member, m, p.onObjects)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("subscribe %s: %w", member, err)
		}
		p.unsubs = append(p.unsubs, unsub)
	}

	c, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	objects, err := dbusx.ManagedObjects(c, bus.Object(iwdDest, "/"))
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("connect to iwd: %w", err)
	}
	for path, ifaces := range objects {
		if _, ok := ifaces[stationIface]; ok {
			p.addStation(path)
		}
	}
	p.log.Info("connected to iwd", logx.Int("stations", len(p.stations)))
	return p, nil
}

func newPlugin(ctx *plugin.Context, bus subscriber) *Plugin {
	return &Plugin{
		ctx:              ctx,
		log:              ctx.Log,
		bus:              bus,
		connectedIcon:    ctx.Icon("connected_icon", "network-wireless"),
		disconnectedIcon: ctx.Icon("disconnected_icon", "network-wireless-offline"),
		stations:         map[dbus.ObjectPath]func(){},
	}
}

func lookupSSID(bus *dbusx.Conn, station dbus.ObjectPath) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	v, err := dbusx.Get(ctx, bus.Object(iwdDest, station), stationIface, "ConnectedNetwork")
	if err != nil {
		return "", err
	}
	network, _ := v.Value().(dbus.ObjectPath)
	if network == "" || network == "/" {
		return "", errNoNetwork
	}
	v, err = dbusx.Get(ctx, bus.Object(iwdDest, network), networkIface, "Name")
	if err != nil {
		return "", err
	}
	name, _ := v.Value().(string)
	return name, nil
}

func (p *Plugin) Close() error {
	for path, unsub := range p.stations {
		unsub()
		delete(p.stations, path)
	}
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.unsubs = nil
	return nil
}

func (p *Plugin) addStation(path dbus.ObjectPath) {
	if _, ok := p.stations[path]; ok {
		return
	}
	m := dbusx.Match{
		Sender:    iwdDest,
		Path:      path,
		Interface: dbusx.PropertiesInterface,
		Member:    "PropertiesChanged",
		Arg0:      stationIface,
	}
	unsub, err := p.bus.Subscribe(Name+".station", m, p.onStation)
	if err != nil {
		p.log.Warn("station subscribe failed", logx.String("path", string(path)), logx.Err(err))
		return
	}
	p.stations[path] = unsub
	p.log.Info("listening on station", logx.String("path", string(path)))
}

func (p *Plugin) removeStation(path dbus.ObjectPath) {
	unsub, ok := p.stations[path]
	if !ok {
		return
	}
	unsub()
	delete(p.stations, path)
	p.log.Info("station removed", logx.String("path", string(path)))
}

// onObjects handles InterfacesAdded (o a{sa{sv}}) and InterfacesRemoved (o as).
func (p *Plugin) onObjects(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	switch body := sig.Body[1].(type) {
	case map[string]map[string]dbus.Variant:
		if _, ok := body[stationIface]; ok {
			p.addStation(path)
		}
	case []string:
		if slices.Contains(body, stationIface) {
			p.removeStation(path)
		}
	}
}

func (p *Plugin) onStation(sig *dbus.Signal) {
	pc, ok := dbusx.ParsePropertiesChanged(sig)
	if !ok || pc.Interface != stationIface {
		return
	}
	state, ok := dbusx.Value[string](pc.Changed, "State")
	if !ok {
		return
	}
	p.log.Debug("station state changed", logx.String("path", string(pc.Path)), logx.String("state", state))
	p.stateChanged(pc.Path, state)
}

func (p *Plugin) stateChanged(station dbus.ObjectPath, state string) {
	var summary, icon string
	switch state {
	case "connected":
		icon = p.connectedIcon
		ssid, err := p.ssid(station)
		switch {
		case errors.Is(err, errNoNetwork):
			return
		case err != nil || ssid == "":
			if err != nil {
				p.log.Warn("network details unavailable", logx.Err(err))
			}
			summary = "Connected to network"
		default:
			summary = "Connected to " + ssid
		}
	case "disconnected":
		summary, icon = "Network disconnected", p.disconnectedIcon
	default:
		return
	}
	if err := p.ctx.Notify(summary, plugin.WithIcon(icon), plugin.WithReplaceKey(replaceKey)); err != nil {
		p.log.Warn("notification failed", logx.Err(err))
	}
}
