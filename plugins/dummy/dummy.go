// Package dummy is a demonstration watcher. It exercises configuration,
// icons, updatable and progress notifications, active closing and bus access.
//
// Example section:
//
//	dummy:
//	  example_message: This is a test message from the configuration!
//	  example_icon: face-smile
package dummy

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"sysnotifier/internal/dbusx"
	"sysnotifier/internal/eventloop"
	"sysnotifier/internal/notify"
	"sysnotifier/internal/plugin"
	logx "sysnotifier/pkg/logx"
)

const Name = "dummy"

const (
	replaceableKey = "replaceable"
	closableKey    = "closable"
	progressKey    = "progress"

	callTimeout = 5 * time.Second
)

// scheduler is the part of the event loop the demo uses.
type scheduler interface {
	AfterFunc(d time.Duration, name string, fn eventloop.Handler) (stop func() bool)
	Every(spec, name string, fn eventloop.Handler) (cancel func(), err error)
	Go(name string, fn func(ctx context.Context) error)
}

type Plugin struct {
	ctx   *plugin.Context
	log   logx.Logger
	sched scheduler

	infoIcon string
	progress int

	timers         []func() bool
	cancelProgress func()
}

func New(ctx *plugin.Context) (plugin.Watcher, error) {
	p, err := start(ctx, ctx.Loop())
	if err != nil {
		return nil, err
	}
	return p, nil
}

func start(ctx *plugin.Context, sched scheduler) (*Plugin, error) {
	p := &Plugin{ctx: ctx, log: ctx.Log, sched: sched}
	p.log.Info("plugin is being initialized")

	message := ctx.GetString("example_message", "This is a default message (fallback).")
	p.log.Debug("read configuration", logx.String("example_message", message))

	p.infoIcon = ctx.Icon("info_icon", "dialog-information")
	exampleIcon := ctx.Icon("example_icon", "face-smile")

	if err := ctx.Notify("Dummy Plugin Loaded", plugin.WithBody(message), plugin.WithIcon(exampleIcon)); err != nil {
		return nil, err
	}

	p.after(3*time.Second, "replaceable", p.showReplaceable)

	cancel, err := sched.Every("@every 1s", Name+".progress", p.stepProgress)
	if err != nil {
		return nil, fmt.Errorf("progress schedule: %w", err)
	}
	p.cancelProgress = cancel

	p.after(10*time.Second, "critical", p.showCritical)

	sched.Go(Name+".dbus", p.demonstrateBus)

	p.log.Info("initialization complete")
	return p, nil
}

func (p *Plugin) after(d time.Duration, name string, fn eventloop.Handler) {
	p.timers = append(p.timers, p.sched.AfterFunc(d, Name+"."+name, fn))
}

func (p *Plugin) Close() error {
	for _, stop := range p.timers {
		stop()
	}
	p.timers = nil
	if p.cancelProgress != nil {
		p.cancelProgress()
	}
	return nil
}

func (p *Plugin) notify(summary string, opts ...plugin.NotifyOption) {
	if err := p.ctx.Notify(summary, opts...); err != nil {
		p.log.Warn("notification failed", logx.Err(err))
	}
}

func (p *Plugin) showReplaceable() {
	p.notify("Waiting for Update",
		plugin.WithBody("This message will be changed in 5 seconds."),
		plugin.WithIcon(p.infoIcon),
		plugin.WithReplaceKey(replaceableKey),
	)
	p.after(5*time.Second, "update", func() {
		p.log.Info("updating notification")
		p.notify("Message Updated!",
			plugin.WithBody("The content has been successfully changed."),
			plugin.WithIcon(p.infoIcon),
			plugin.WithReplaceKey(replaceableKey),
		)
	})
}

func (p *Plugin) stepProgress() {
	if p.progress > 100 {
		p.log.Info("progress complete")
		p.cancelProgress()
		if err := p.ctx.Close(progressKey); err != nil {
			p.log.Warn("close failed", logx.Err(err))
		}
		return
	}
	p.notify("Progress Indicator",
		plugin.WithBody(fmt.Sprintf("Value: %d%%", p.progress)),
		plugin.WithProgress(p.progress),
		plugin.WithReplaceKey(progressKey),
	)
	p.progress += 10
}

func (p *Plugin) showCritical() {
	p.notify("Critical Warning",
		plugin.WithBody("This message will be actively closed in 5 seconds."),
		plugin.WithIcon(p.infoIcon),
		plugin.WithUrgency(notify.UrgencyCritical),
		plugin.WithReplaceKey(closableKey),
	)
	p.after(5*time.Second, "close", func() {
		p.log.Info("actively closing critical notification")
		if err := p.ctx.Close(closableKey); err != nil {
			p.log.Warn("close failed", logx.Err(err))
		}
	})
}

// demonstrateBus reads from both buses off the loop and only logs.
func (p *Plugin) demonstrateBus(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if session, err := p.ctx.SessionBus(); err != nil {
		p.log.Info("session bus unavailable", logx.Err(err))
	} else {
		var owner string
		err := session.Object("org.freedesktop.DBus", "/org/freedesktop/DBus").
			CallWithContext(ctx, "org.freedesktop.DBus.GetNameOwner", 0, "org.freedesktop.DBus").
			Store(&owner)
		if err != nil {
			p.log.Info("GetNameOwner failed", logx.Err(err))
		} else {
			p.log.Info("session bus service owner", logx.String("owner", owner))
		}
	}

	system, err := p.ctx.SystemBus()
	if err != nil {
		p.log.Info("system bus unavailable", logx.Err(err))
		return nil
	}
	v, err := dbusx.Get(ctx, system.Object("org.freedesktop.login1", dbus.ObjectPath("/org/freedesktop/login1")),
		"org.freedesktop.login1.Manager", "Docked")
	if err != nil {
		p.log.Info("logind query failed", logx.Err(err))
		return nil
	}
	docked, _ := v.Value().(bool)
	p.log.Info("system docked state", logx.Bool("docked", docked))
	return nil
}
