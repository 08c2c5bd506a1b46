package dbusx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	logx "sysnotifier/pkg/logx"
)

// Buses hands out the process-wide system and session bus connections.
// Each is dialed on first use; a failed dial is retried on the next call.
type Buses struct {
	loop Loop
	log  logx.Logger

	dialSystem  func() (*dbus.Conn, error)
	dialSession func() (*dbus.Conn, error)

	mu      sync.Mutex
	system  *Conn
	session *Conn
}

func NewBuses(loop Loop, log logx.Logger) *Buses {
	return &Buses{
		loop:        loop,
		log:         log,
		dialSystem:  func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() },
		dialSession: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() },
	}
}

func (b *Buses) System() (*Conn, error) {
	return b.get("system", &b.system, b.dialSystem)
}

func (b *Buses) Session() (*Conn, error) {
	return b.get("session", &b.session, b.dialSession)
}

func (b *Buses) get(name string, slot **Conn, dial func() (*dbus.Conn, error)) (*Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if *slot != nil {
		return *slot, nil
	}
	raw, err := dial()
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", name, err)
	}
	*slot = NewConn(name, raw, b.loop, b.log)
	b.log.Debug("bus connected", logx.String("bus", name))
	return *slot, nil
}

// Close closes whichever connections were opened.
func (b *Buses) Close() error {
	b.mu.Lock()
	sys, ses := b.system, b.session
	b.system, b.session = nil, nil
	b.mu.Unlock()

	var errs []error
	for _, c := range []*Conn{sys, ses} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
