package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sysnotifier/internal/config"
	"sysnotifier/internal/dbusx"
	"sysnotifier/internal/eventloop"
	"sysnotifier/internal/icons"
	"sysnotifier/internal/notify"
	"sysnotifier/internal/plugin"
	logx "sysnotifier/pkg/logx"
	"sysnotifier/pkg/systemd"
)

// Options come from the command line and take precedence over the config file.
type Options struct {
	ConfigPath string
	Plugins    string
	LogLevel   string
}

type App struct {
	opts Options

	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	loop  *eventloop.Loop
	buses *dbusx.Buses
	sink  notify.Sink
	icons *icons.Resolver
	reg   *plugin.Registry
	sd    *systemd.Notifier
}

// New loads the configuration and builds every shared component. Watchers
// are registered on Watchers() and loaded by Run.
func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logCfg := effectiveLogConfig(cfg, opts)
	// The desktop log sink gets its alerter once the notification sink exists.
	logSvc, root := logx.New(logCfg, nil)
	log := root.With(logx.String("comp", "app"))
	if len(cfg.Files) == 0 {
		log.Info("no configuration file found, using defaults")
	} else {
		log.Debug("configuration loaded", logx.Strings("files", cfg.Files))
	}
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	loop := eventloop.New(root.With(logx.String("comp", "loop")))
	buses := dbusx.NewBuses(loop, root.With(logx.String("comp", "dbus")))

	sink, err := openSink(cfg.Main.Sink, buses, log)
	if err != nil {
		_ = buses.Close()
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetAlerter(sinkAlerter{sink: sink})

	res := icons.New(cfg.Main.IconThemeDir, cfg.Main.CacheDir, root.With(logx.String("comp", "icons")))
	log.Debug("icon resolver", logx.String("theme_dir", res.ThemeDir()), logx.String("cache_dir", res.CacheDir()))

	reg := plugin.NewRegistry(root.With(logx.String("comp", "plugins")), plugin.Deps{
		Logger: root,
		Config: cfg,
		Icons:  res,
		Sink:   sink,
		Loop:   loop,
		Buses:  buses,
	})

	return &App{
		opts:  opts,
		cfgm:  cfgm,
		cfg:   cfg,
		log:   log,
		logs:  logSvc,
		loop:  loop,
		buses: buses,
		sink:  sink,
		icons: res,
		reg:   reg,
		sd:    systemd.New(),
	}, nil
}

func effectiveLogConfig(cfg *config.Config, opts Options) logx.Config {
	lc := cfg.Logging.LogConfig()
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" {
		lc.Level = lvl
	}
	return lc
}

// Watchers exposes the registry so the entry point can register factories.
func (a *App) Watchers() *plugin.Registry { return a.reg }

func (a *App) Logger() logx.Logger { return a.log }

// Run loads the enabled watchers and serves events until ctx is canceled.
// Loading nothing is not an error: Run logs it and returns nil.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	loaded := a.reg.LoadAll(a.opts.Plugins)
	if len(loaded) == 0 {
		a.log.Info("no watchers loaded, exiting")
		return nil
	}
	names := make([]string, 0, len(loaded))
	for _, l := range loaded {
		names = append(names, l.Name)
	}
	a.log.Info("watchers running", logx.Int("count", len(loaded)), logx.Strings("plugins", names))
	if err := a.sd.Ready(fmt.Sprintf("%d watchers running", len(loaded))); err != nil {
		a.log.Warn("service manager notify failed", logx.Err(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return a.loop.Run(gctx)
	})
	g.Go(func() error { return a.cfgm.Watch(gctx) })
	g.Go(func() error { return a.reloadLoop(gctx) })
	if every := a.sd.WatchdogInterval(); every > 0 {
		g.Go(func() error { return a.watchdog(gctx, every) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// watchdog pings the service manager from the loop goroutine, so a stuck
// handler stops the pings and systemd restarts the service.
func (a *App) watchdog(ctx context.Context, every time.Duration) error {
	a.log.Debug("watchdog enabled", logx.Duration("interval", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.loop.Post("watchdog", func() {
				if err := a.sd.Watchdog(); err != nil {
					a.log.Debug("watchdog ping failed", logx.Err(err))
				}
			})
		}
	}
}

// reloadLoop re-applies the logging section on config changes. Watcher
// sections are read once at load, so their changes only get reported.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(old, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)

	a.logs.Apply(effectiveLogConfig(cfg, a.opts))

	var restart []string
	for _, s := range sections {
		if s != "logging" {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", restart))
	}
}

func (a *App) close() {
	a.loop.Stop()
	if err := a.reg.CloseAll(); err != nil {
		a.log.Warn("watchers closed with errors", logx.Err(err))
	}
	if err := a.sd.Stopping(); err != nil {
		a.log.Debug("service manager notify failed", logx.Err(err))
	}
	if err := a.buses.Close(); err != nil {
		a.log.Debug("bus close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
}
