package notify

import "github.com/gen2brain/beeep"

// BeeepSink is the fallback backend. It cannot update or close what it
// showed: every Show creates a new notification and returns ID 0.
type BeeepSink struct {
	notify func(title, message string, icon any) error
	alert  func(title, message string, icon any) error
}

func NewBeeepSink() *BeeepSink {
	return &BeeepSink{notify: beeep.Notify, alert: beeep.Alert}
}

// Show sends a notification using beeep. Critical notifications use
// beeep.Alert, which also plays the system beep.
func (s *BeeepSink) Show(n Notification) (ID, error) {
	body := n.Body
	if n.Progress != nil {
		body = progressText(body, ClampProgress(*n.Progress))
	}
	send := s.notify
	if n.Urgency == UrgencyCritical {
		send = s.alert
	}
	if err := send(n.Summary, body, n.Icon); err != nil {
		return 0, err
	}
	return 0, nil
}

// Close is a no-op for beeep.
func (s *BeeepSink) Close(ID) error { return nil }

func progressText(body string, pct int) string {
	const width = 20
	filled := pct * width / 100
	bar := make([]rune, 0, width+2)
	bar = append(bar, '[')
	for i := 0; i < width; i++ {
		if i < filled {
			bar = append(bar, '#')
		} else {
			bar = append(bar, '-')
		}
	}
	bar = append(bar, ']')
	if body == "" {
		return string(bar)
	}
	return body + "\n" + string(bar)
}
