// Package systemd reports service state to the service manager through the
// sd_notify protocol. Outside systemd every call is a silent no-op.
package systemd

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Notifier struct {
	send     func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func New() *Notifier {
	return &Notifier{
		send:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) notify(states ...string) error {
	if _, err := n.send(strings.Join(states, "\n")); err != nil {
		return fmt.Errorf("sd_notify: %w", err)
	}
	return nil
}

// Ready signals that startup finished.
func (n *Notifier) Ready(status string) error {
	if status == "" {
		return n.notify(daemon.SdNotifyReady)
	}
	return n.notify(daemon.SdNotifyReady, "STATUS="+status)
}

func (n *Notifier) Status(status string) error { return n.notify("STATUS=" + status) }

func (n *Notifier) Stopping() error { return n.notify(daemon.SdNotifyStopping) }

func (n *Notifier) Watchdog() error { return n.notify(daemon.SdNotifyWatchdog) }

// WatchdogInterval returns how often to ping, half the configured
// WatchdogSec, or 0 when the watchdog is off.
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := n.watchdog()
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}
