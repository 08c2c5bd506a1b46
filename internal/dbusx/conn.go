// Package dbusx wraps godbus connections so that bus signals are delivered
// as handlers on the event loop instead of on godbus goroutines.
package dbusx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"sysnotifier/internal/eventloop"
	logx "sysnotifier/pkg/logx"
)

// Loop is the part of the event loop a connection needs.
type Loop interface {
	Post(name string, fn eventloop.Handler) bool
	Go(name string, fn func(ctx context.Context) error)
}

// SignalHandler runs on the event loop for every matching signal.
type SignalHandler func(sig *dbus.Signal)

type Conn struct {
	name string
	conn *dbus.Conn
	loop Loop
	log  logx.Logger

	mu   sync.Mutex
	subs map[uint64]*subscription
	seq  uint64

	pumpOnce sync.Once
	signals  chan *dbus.Signal
}

type subscription struct {
	name    string
	match   Match
	handler SignalHandler
	active  atomic.Bool
}

// NewConn wraps an established connection. name tags logs ("system", "session").
func NewConn(name string, conn *dbus.Conn, loop Loop, log logx.Logger) *Conn {
	return &Conn{
		name: name,
		conn: conn,
		loop: loop,
		log:  log.With(logx.String("bus", name)),
		subs: map[uint64]*subscription{},
	}
}

// Raw exposes the underlying connection for one-shot method calls.
func (c *Conn) Raw() *dbus.Conn { return c.conn }

func (c *Conn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return c.conn.Object(dest, path)
}

// Subscribe installs a bus match rule and routes matching signals to h on
// the loop. The returned func removes the rule; it is safe to call twice.
func (c *Conn) Subscribe(name string, m Match, h SignalHandler) (unsubscribe func(), err error) {
	if h == nil {
		return nil, errors.New("nil signal handler")
	}
	if err := c.conn.AddMatchSignal(m.options()...); err != nil {
		return nil, fmt.Errorf("add match %s: %w", m, err)
	}
	c.startPump()
	id := c.add(name, m, h)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.remove(id)
			if err := c.conn.RemoveMatchSignal(m.options()...); err != nil {
				c.log.Debug("remove match failed", logx.String("match", m.String()), logx.Err(err))
			}
		})
	}, nil
}

func (c *Conn) add(name string, m Match, h SignalHandler) uint64 {
	s := &subscription{name: name, match: m, handler: h}
	s.active.Store(true)
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.subs[id] = s
	c.mu.Unlock()
	return id
}

func (c *Conn) remove(id uint64) {
	c.mu.Lock()
	s := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if s != nil {
		s.active.Store(false)
	}
}

func (c *Conn) startPump() {
	c.pumpOnce.Do(func() {
		c.signals = make(chan *dbus.Signal, 64)
		c.conn.Signal(c.signals)
		c.loop.Go("dbus."+c.name+".signals", c.pump)
	})
}

func (c *Conn) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-c.signals:
			if !ok {
				// godbus closes signal channels when the connection goes away.
				return nil
			}
			c.dispatch(sig)
		}
	}
}

// dispatch posts one loop handler per matching subscription. A handler
// whose subscription was removed after posting is skipped.
func (c *Conn) dispatch(sig *dbus.Signal) {
	if sig == nil {
		return
	}
	c.mu.Lock()
	matched := make([]*subscription, 0, 2)
	for _, s := range c.subs {
		if s.match.Matches(sig) {
			matched = append(matched, s)
		}
	}
	c.mu.Unlock()

	for _, s := range matched {
		s := s
		c.loop.Post(s.name, func() {
			if s.active.Load() {
				s.handler(sig)
			}
		})
	}
}

// Close drops every subscription and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	for id, s := range c.subs {
		s.active.Store(false)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	if c.signals != nil {
		c.conn.RemoveSignal(c.signals)
	}
	return c.conn.Close()
}
