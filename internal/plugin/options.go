package plugin

import "sysnotifier/internal/notify"

type request struct {
	body       string
	icon       string
	urgency    notify.Urgency
	timeout    *int32
	replaceKey string
	progress   *int
}

// NotifyOption customizes one Notify call.
type NotifyOption func(*request)

func WithBody(body string) NotifyOption { return func(r *request) { r.body = body } }

// WithIcon sets an icon path, usually the result of Context.Icon.
func WithIcon(icon string) NotifyOption { return func(r *request) { r.icon = icon } }

func WithUrgency(u notify.Urgency) NotifyOption { return func(r *request) { r.urgency = u } }

// WithTimeout overrides the context timeout (ms; -1 service default, 0 never).
func WithTimeout(ms int32) NotifyOption {
	return func(r *request) { r.timeout = &ms }
}

// WithReplaceKey ties the notification to a logical identity so later
// calls with the same key update it instead of stacking new ones.
func WithReplaceKey(key string) NotifyOption { return func(r *request) { r.replaceKey = key } }

// WithProgress attaches a 0..100 progress value. 0 is shown as empty, not omitted.
func WithProgress(pct int) NotifyOption {
	return func(r *request) { r.progress = &pct }
}
