package dbusx

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	PropertiesInterface = "org.freedesktop.DBus.Properties"
	ObjectManager       = "org.freedesktop.DBus.ObjectManager"
)

// PropertiesChangedMatch matches org.freedesktop.DBus.Properties.PropertiesChanged
// for iface (as arg0) on objects below ns.
func PropertiesChangedMatch(sender string, ns dbus.ObjectPath, iface string) Match {
	return Match{
		Sender:        sender,
		PathNamespace: ns,
		Interface:     PropertiesInterface,
		Member:        "PropertiesChanged",
		Arg0:          iface,
	}
}

// PropertiesChanged is a decoded PropertiesChanged signal.
type PropertiesChanged struct {
	Path        dbus.ObjectPath
	Interface   string
	Changed     map[string]dbus.Variant
	Invalidated []string
}

// ParsePropertiesChanged decodes the (s a{sv} as) body of a PropertiesChanged signal.
func ParsePropertiesChanged(sig *dbus.Signal) (PropertiesChanged, bool) {
	if sig == nil || sig.Name != PropertiesInterface+".PropertiesChanged" || len(sig.Body) < 2 {
		return PropertiesChanged{}, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return PropertiesChanged{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return PropertiesChanged{}, false
	}
	pc := PropertiesChanged{Path: sig.Path, Interface: iface, Changed: changed}
	if len(sig.Body) > 2 {
		pc.Invalidated, _ = sig.Body[2].([]string)
	}
	return pc, true
}

// GetAll reads every property of iface on obj.
func GetAll(ctx context.Context, obj dbus.BusObject, iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	err := obj.CallWithContext(ctx, PropertiesInterface+".GetAll", 0, iface).Store(&props)
	if err != nil {
		return nil, fmt.Errorf("%s GetAll %s: %w", obj.Path(), iface, err)
	}
	return props, nil
}

// Get reads one property.
func Get(ctx context.Context, obj dbus.BusObject, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := obj.CallWithContext(ctx, PropertiesInterface+".Get", 0, iface, prop).Store(&v)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("%s Get %s.%s: %w", obj.Path(), iface, prop, err)
	}
	return v, nil
}

// ManagedObjects calls org.freedesktop.DBus.ObjectManager.GetManagedObjects.
func ManagedObjects(ctx context.Context, obj dbus.BusObject) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var out map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := obj.CallWithContext(ctx, ObjectManager+".GetManagedObjects", 0).Store(&out)
	if err != nil {
		return nil, fmt.Errorf("%s GetManagedObjects: %w", obj.Path(), err)
	}
	return out, nil
}

// Value extracts a typed property value, reporting false on a type mismatch.
func Value[T any](props map[string]dbus.Variant, name string) (T, bool) {
	var zero T
	v, ok := props[name]
	if !ok {
		return zero, false
	}
	t, ok := v.Value().(T)
	return t, ok
}
