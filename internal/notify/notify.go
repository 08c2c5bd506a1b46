// Package notify shows, updates and closes desktop notifications.
//
// A Sink is stateless: it knows nothing about which logical notification an
// ID belongs to. Identity tracking lives in the plugin context.
package notify

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when no notification service can be reached.
var ErrUnavailable = errors.New("notification service unavailable")

// ID is the handle the notification service assigns to a shown notification.
// Zero means "no notification".
type ID uint32

// Urgency follows the freedesktop urgency levels.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyCritical:
		return "critical"
	default:
		return fmt.Sprintf("urgency(%d)", byte(u))
	}
}

// ParseUrgency accepts "low", "normal" and "critical" (case-insensitive).
func ParseUrgency(s string) (Urgency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return UrgencyLow, nil
	case "normal", "":
		return UrgencyNormal, nil
	case "critical":
		return UrgencyCritical, nil
	default:
		return UrgencyNormal, fmt.Errorf("unknown urgency %q", s)
	}
}

// Notification is one show or update request.
type Notification struct {
	Summary string
	Body    string
	// Icon is an image file path or a themed icon name. Empty means no icon.
	Icon    string
	Urgency Urgency
	// Timeout is in ms: -1 = service default, 0 = never expire.
	Timeout int32
	// ReplacesID updates an existing notification in place when non-zero.
	ReplacesID ID
	// Progress is attached as the "value" hint when non-nil (0 is a real value).
	Progress *int
}

// Sink delivers notifications to the desktop.
type Sink interface {
	// Show creates a notification, or updates n.ReplacesID in place, and
	// returns the ID now displayed.
	Show(n Notification) (ID, error)
	// Close retracts a displayed notification.
	Close(id ID) error
}

// ClampProgress limits a progress value to [0, 100].
func ClampProgress(v int) int {
	return min(max(v, 0), 100)
}
