package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	dbusNotifyDest      = "org.freedesktop.Notifications"
	dbusNotifyPath      = "/org/freedesktop/Notifications"
	dbusNotifyInterface = "org.freedesktop.Notifications"

	callTimeout = 5 * time.Second
)

// errors that mean nobody is serving org.freedesktop.Notifications
var unavailableErrors = map[string]struct{}{
	"org.freedesktop.DBus.Error.ServiceUnknown": {},
	"org.freedesktop.DBus.Error.NameHasNoOwner": {},
	"org.freedesktop.DBus.Error.NoReply":        {},
	"org.freedesktop.DBus.Error.Disconnected":   {},
}

// DBusSink talks to the freedesktop notification service on the session bus.
type DBusSink struct {
	appName string
	obj     dbus.BusObject
}

// ServerInfo is the reply of GetServerInformation.
type ServerInfo struct {
	Name        string
	Vendor      string
	Version     string
	SpecVersion string
}

func NewDBusSink(conn *dbus.Conn, appName string) *DBusSink {
	return &DBusSink{
		appName: appName,
		obj:     conn.Object(dbusNotifyDest, dbusNotifyPath),
	}
}

// Show sends a notification via D-Bus.
func (s *DBusSink) Show(n Notification) (ID, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	// Notify(app_name, replaces_id, icon, summary, body, actions, hints, timeout) -> id
	call := s.obj.CallWithContext(ctx,
		dbusNotifyInterface+".Notify",
		0,
		s.appName,
		uint32(n.ReplacesID),
		n.Icon,
		n.Summary,
		n.Body,
		[]string{},
		hints(n),
		n.Timeout,
	)
	if call.Err != nil {
		return 0, classify(call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("notify reply: %w", err)
	}
	return ID(id), nil
}

// Close closes a notification by ID.
func (s *DBusSink) Close(id ID) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	call := s.obj.CallWithContext(ctx, dbusNotifyInterface+".CloseNotification", 0, uint32(id))
	if call.Err != nil {
		return classify(call.Err)
	}
	return nil
}

// ServerInfo asks the service to identify itself. A failure usually means
// no notification daemon is running or activatable.
func (s *DBusSink) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	call := s.obj.CallWithContext(ctx, dbusNotifyInterface+".GetServerInformation", 0)
	if call.Err != nil {
		return info, classify(call.Err)
	}
	if err := call.Store(&info.Name, &info.Vendor, &info.Version, &info.SpecVersion); err != nil {
		return info, fmt.Errorf("server information reply: %w", err)
	}
	return info, nil
}

func hints(n Notification) map[string]dbus.Variant {
	h := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(n.Urgency)),
	}
	if n.Progress != nil {
		h["value"] = dbus.MakeVariant(int32(ClampProgress(*n.Progress)))
	}
	return h
}

func classify(err error) error {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		if _, ok := unavailableErrors[dbusErr.Name]; ok {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
