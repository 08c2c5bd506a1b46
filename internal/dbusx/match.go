package dbusx

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

// Match describes a signal match rule. Empty fields match anything.
//
// Sender is sent to the bus daemon but not re-checked locally: signals
// carry the sender's unique name while rules usually use a well-known one.
type Match struct {
	Sender        string
	Path          dbus.ObjectPath
	PathNamespace dbus.ObjectPath
	Interface     string
	Member        string
	Arg0          string
}

func (m Match) options() []dbus.MatchOption {
	opts := make([]dbus.MatchOption, 0, 6)
	if m.Sender != "" {
		opts = append(opts, dbus.WithMatchSender(m.Sender))
	}
	if m.Path != "" {
		opts = append(opts, dbus.WithMatchObjectPath(m.Path))
	}
	if m.PathNamespace != "" {
		opts = append(opts, dbus.WithMatchPathNamespace(m.PathNamespace))
	}
	if m.Interface != "" {
		opts = append(opts, dbus.WithMatchInterface(m.Interface))
	}
	if m.Member != "" {
		opts = append(opts, dbus.WithMatchMember(m.Member))
	}
	if m.Arg0 != "" {
		opts = append(opts, dbus.WithMatchArg(0, m.Arg0))
	}
	return opts
}

// Matches applies the rule to a received signal.
func (m Match) Matches(sig *dbus.Signal) bool {
	if sig == nil {
		return false
	}
	if m.Path != "" && sig.Path != m.Path {
		return false
	}
	if m.PathNamespace != "" && !inNamespace(sig.Path, m.PathNamespace) {
		return false
	}
	iface, member := splitName(sig.Name)
	if m.Interface != "" && iface != m.Interface {
		return false
	}
	if m.Member != "" && member != m.Member {
		return false
	}
	if m.Arg0 != "" {
		if len(sig.Body) == 0 {
			return false
		}
		if s, ok := sig.Body[0].(string); !ok || s != m.Arg0 {
			return false
		}
	}
	return true
}

func (m Match) String() string {
	parts := make([]string, 0, 6)
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"='"+v+"'")
		}
	}
	add("sender", m.Sender)
	add("path", string(m.Path))
	add("path_namespace", string(m.PathNamespace))
	add("interface", m.Interface)
	add("member", m.Member)
	add("arg0", m.Arg0)
	return "type='signal'," + strings.Join(parts, ",")
}

func inNamespace(p, ns dbus.ObjectPath) bool {
	if ns == "/" || p == ns {
		return true
	}
	return strings.HasPrefix(string(p), string(ns)+"/")
}

// splitName splits "iface.Member" at the last dot.
func splitName(name string) (iface, member string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
