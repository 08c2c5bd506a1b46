package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sysnotifier/internal/config"
	"sysnotifier/internal/dbusx"
	"sysnotifier/internal/notify"
	logx "sysnotifier/pkg/logx"
)

const probeTimeout = 2 * time.Second

// openSink picks the notification backend named by main.sink. The D-Bus
// sink falls back to beeep when no notification server answers.
func openSink(kind string, buses *dbusx.Buses, log logx.Logger) (notify.Sink, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "beeep":
		log.Info("notification sink", logx.String("sink", "beeep"))
		return notify.NewBeeepSink(), nil
	case "", "dbus":
	default:
		return nil, fmt.Errorf("main.sink: unknown sink %q (want dbus or beeep)", kind)
	}

	conn, err := buses.Session()
	if err != nil {
		log.Warn("session bus unavailable, falling back to beeep", logx.Err(err))
		return notify.NewBeeepSink(), nil
	}
	s := notify.NewDBusSink(conn.Raw(), config.AppName)

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	info, err := s.ServerInfo(ctx)
	if err != nil {
		log.Warn("notification server not responding, falling back to beeep", logx.Err(err))
		return notify.NewBeeepSink(), nil
	}
	log.Info("notification sink",
		logx.String("sink", "dbus"),
		logx.String("server", info.Name),
		logx.String("version", info.Version),
		logx.String("spec", info.SpecVersion),
	)
	return s, nil
}

// sinkAlerter delivers desktop log entries through the notification sink.
type sinkAlerter struct {
	sink notify.Sink
}

func (a sinkAlerter) Alert(level logx.Level, summary, body string) error {
	u := notify.UrgencyNormal
	if level >= logx.LevelError {
		u = notify.UrgencyCritical
	}
	_, err := a.sink.Show(notify.Notification{
		Summary: summary,
		Body:    body,
		Icon:    "dialog-warning",
		Urgency: u,
		Timeout: config.DefaultTimeout,
	})
	return err
}
