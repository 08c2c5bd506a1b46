package iwd

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysnotifier/internal/dbusx"
	"sysnotifier/internal/notify/notifytest"
	"sysnotifier/internal/plugin"
	logx "sysnotifier/pkg/logx"
)

const station = dbus.ObjectPath("/net/connman/iwd/0/3")

type fakeBus struct {
	subs   map[string]int
	unsubs int
}

func (b *fakeBus) Subscribe(name string, m dbusx.Match, _ dbusx.SignalHandler) (func(), error) {
	b.subs[string(m.Path)]++
	return func() { b.unsubs++ }, nil
}

func newTestPlugin(t *testing.T) (*Plugin, *fakeBus, *notifytest.Recorder) {
	t.Helper()
	rec := notifytest.New()
	bus := &fakeBus{subs: map[string]int{}}
	ctx := plugin.NewContext(Name, plugin.Deps{Logger: logx.Nop(), Sink: rec})
	p := newPlugin(ctx, bus)
	p.ssid = func(dbus.ObjectPath) (string, error) { return "HomeNet", nil }
	return p, bus, rec
}

func stateSignal(state string) *dbus.Signal {
	return &dbus.Signal{
		Path: station,
		Name: dbusx.PropertiesInterface + ".PropertiesChanged",
		Body: []any{stationIface, map[string]dbus.Variant{"State": dbus.MakeVariant(state)}, []string{}},
	}
}

func TestStationLifecycle(t *testing.T) {
	p, bus, _ := newTestPlugin(t)

	added := &dbus.Signal{Body: []any{station, map[string]map[string]dbus.Variant{stationIface: {}}}}
	p.onObjects(added)
	p.onObjects(added)
	assert.Equal(t, 1, bus.subs[string(station)])

	p.onObjects(&dbus.Signal{Body: []any{station, []string{"net.connman.iwd.Device"}}})
	assert.Len(t, p.stations, 1)

	p.onObjects(&dbus.Signal{Body: []any{station, []string{stationIface}}})
	assert.Empty(t, p.stations)
	assert.Equal(t, 1, bus.unsubs)
}

func TestConnectDisconnect(t *testing.T) {
	p, _, rec := newTestPlugin(t)

	p.onStation(stateSignal("connecting"))
	p.onStation(stateSignal("connected"))
	p.onStation(stateSignal("disconnected"))

	shown := rec.Shown()
	require.Len(t, shown, 2)
	assert.Equal(t, "Connected to HomeNet", shown[0].Summary)
	assert.Equal(t, "Network disconnected", shown[1].Summary)
	assert.Equal(t, shown[0].ID, shown[1].ID)
}

func TestConnectedFallbacks(t *testing.T) {
	p, _, rec := newTestPlugin(t)

	p.ssid = func(dbus.ObjectPath) (string, error) { return "", errors.New("iwd went away") }
	p.stateChanged(station, "connected")
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, "Connected to network", last.Summary)

	p.ssid = func(dbus.ObjectPath) (string, error) { return "", errNoNetwork }
	p.stateChanged(station, "connected")
	assert.Len(t, rec.Shown(), 1)
}

func TestCloseDropsAllSubscriptions(t *testing.T) {
	p, bus, _ := newTestPlugin(t)
	p.addStation(station)
	p.addStation("/net/connman/iwd/1/3")
	p.unsubs = append(p.unsubs, func() { bus.unsubs++ })

	require.NoError(t, p.Close())
	assert.Equal(t, 3, bus.unsubs)
	assert.Empty(t, p.stations)
}
