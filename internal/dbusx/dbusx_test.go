package dbusx

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysnotifier/internal/eventloop"
	logx "sysnotifier/pkg/logx"
)

// inlineLoop runs posted handlers immediately.
type inlineLoop struct{ posted []string }

func (l *inlineLoop) Post(name string, fn eventloop.Handler) bool {
	l.posted = append(l.posted, name)
	fn()
	return true
}

func (l *inlineLoop) Go(string, func(ctx context.Context) error) {}

func propsSignal(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Sender: ":1.42",
		Path:   path,
		Name:   PropertiesInterface + ".PropertiesChanged",
		Body:   []any{iface, changed, []string{}},
	}
}

func TestMatchMatches(t *testing.T) {
	m := PropertiesChangedMatch("org.freedesktop.UPower", "/org/freedesktop/UPower/devices", "org.freedesktop.UPower.Device")

	hit := propsSignal("/org/freedesktop/UPower/devices/battery_BAT0", "org.freedesktop.UPower.Device", nil)
	assert.True(t, m.Matches(hit))

	otherIface := propsSignal("/org/freedesktop/UPower/devices/battery_BAT0", "org.freedesktop.UPower.KbdBacklight", nil)
	assert.False(t, m.Matches(otherIface))

	outside := propsSignal("/org/freedesktop/UPower", "org.freedesktop.UPower.Device", nil)
	assert.False(t, m.Matches(outside))

	prefixOnly := propsSignal("/org/freedesktop/UPower/devicesX", "org.freedesktop.UPower.Device", nil)
	assert.False(t, m.Matches(prefixOnly))

	exact := Match{Path: "/net/connman/iwd/0/3", Member: "PropertiesChanged"}
	assert.True(t, exact.Matches(propsSignal("/net/connman/iwd/0/3", "net.connman.iwd.Station", nil)))
	assert.False(t, exact.Matches(propsSignal("/net/connman/iwd/0/4", "net.connman.iwd.Station", nil)))
	assert.False(t, exact.Matches(nil))
}

func TestMatchOptionsAndString(t *testing.T) {
	m := Match{Sender: "net.connman.iwd", Interface: ObjectManager, Member: "InterfacesAdded"}
	assert.Len(t, m.options(), 3)
	assert.Equal(t, "type='signal',sender='net.connman.iwd',interface='org.freedesktop.DBus.ObjectManager',member='InterfacesAdded'", m.String())
}

func TestParsePropertiesChanged(t *testing.T) {
	sig := propsSignal("/org/freedesktop/UPower/devices/line_power_AC", "org.freedesktop.UPower.Device",
		map[string]dbus.Variant{"Online": dbus.MakeVariant(true)})

	pc, ok := ParsePropertiesChanged(sig)
	require.True(t, ok)
	assert.Equal(t, "org.freedesktop.UPower.Device", pc.Interface)
	online, ok := Value[bool](pc.Changed, "Online")
	assert.True(t, ok)
	assert.True(t, online)

	_, ok = Value[string](pc.Changed, "Online")
	assert.False(t, ok)

	_, ok = ParsePropertiesChanged(&dbus.Signal{Name: "org.example.Other", Body: []any{"x"}})
	assert.False(t, ok)
}

func TestDispatchRoutesToActiveSubscriptions(t *testing.T) {
	loop := &inlineLoop{}
	c := NewConn("system", nil, loop, logx.Nop())

	var got []string
	id := c.add("battery", Match{Interface: PropertiesInterface, Arg0: "org.freedesktop.UPower.Device"}, func(sig *dbus.Signal) {
		got = append(got, "battery:"+string(sig.Path))
	})
	c.add("iwd", Match{Arg0: "net.connman.iwd.Station"}, func(sig *dbus.Signal) {
		got = append(got, "iwd:"+string(sig.Path))
	})

	c.dispatch(propsSignal("/org/freedesktop/UPower/devices/battery_BAT0", "org.freedesktop.UPower.Device", nil))
	c.remove(id)
	c.dispatch(propsSignal("/org/freedesktop/UPower/devices/battery_BAT0", "org.freedesktop.UPower.Device", nil))
	c.dispatch(propsSignal("/net/connman/iwd/0/3", "net.connman.iwd.Station", nil))

	assert.Equal(t, []string{"battery:/org/freedesktop/UPower/devices/battery_BAT0", "iwd:/net/connman/iwd/0/3"}, got)
	assert.Equal(t, []string{"battery", "iwd"}, loop.posted)
}

func TestBusesDialFailureIsRetried(t *testing.T) {
	b := NewBuses(&inlineLoop{}, logx.Nop())
	calls := 0
	b.dialSystem = func() (*dbus.Conn, error) {
		calls++
		return nil, assert.AnError
	}

	_, err := b.System()
	require.ErrorIs(t, err, assert.AnError)
	_, err = b.System()
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, b.Close())
}
