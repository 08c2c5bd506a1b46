package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"sysnotifier/internal/app"
	logx "sysnotifier/pkg/logx"
	"sysnotifier/plugins/battery"
	"sysnotifier/plugins/brightness"
	"sysnotifier/plugins/dummy"
	"sysnotifier/plugins/iwd"
	"sysnotifier/plugins/volume"
)

var version = "dev"

type Flags struct {
	Config   string `short:"c" long:"config" description:"path to a YAML or JSON config file"`
	Plugins  string `short:"p" long:"plugins" description:"comma-separated watchers to load, overrides main.enabled_plugins"`
	LogLevel string `long:"log-level" description:"trace, debug, info, warn or error"`
	Version  bool   `long:"version" description:"print version and exit"`
}

func main() {
	var f Flags
	parser := flags.NewParser(&f, flags.Default^flags.PrintErrors)
	if _, err := parser.Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && errors.Is(flagErr.Type, flags.ErrHelp) {
			_, _ = fmt.Fprintln(os.Stdout, flagErr)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(2)
	}
	if f.Version {
		fmt.Println("system-notifier", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: f.Config, Plugins: f.Plugins, LogLevel: f.LogLevel})
	if err != nil {
		logx.NewConsole("info").Error("startup failed", logx.Err(err))
		os.Exit(1)
	}

	a.Watchers().Register(battery.Name, battery.New)
	a.Watchers().Register(volume.Name, volume.New)
	a.Watchers().Register(iwd.Name, iwd.New)
	a.Watchers().Register(brightness.Name, brightness.New)
	a.Watchers().Register(dummy.Name, dummy.New)

	if err := a.Run(ctx); err != nil {
		a.Logger().Error("fatal", logx.Err(err))
		os.Exit(1)
	}
}
