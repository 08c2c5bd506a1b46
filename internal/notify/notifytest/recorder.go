// Package notifytest provides an in-memory notify.Sink for tests.
package notifytest

import (
	"sync"

	"sysnotifier/internal/notify"
)

// Shown is one recorded Show call and the ID it returned.
type Shown struct {
	notify.Notification
	ID notify.ID
}

// Recorder records every call. It behaves like a notification service:
// updates keep their ID, new notifications get increasing IDs.
type Recorder struct {
	mu     sync.Mutex
	next   notify.ID
	shown  []Shown
	closed []notify.ID
	open   map[notify.ID]notify.Notification

	// ShowErr and CloseErr, when set, fail the respective calls.
	ShowErr  error
	CloseErr error
}

func New() *Recorder {
	return &Recorder{open: map[notify.ID]notify.Notification{}}
}

func (r *Recorder) Show(n notify.Notification) (notify.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ShowErr != nil {
		return 0, r.ShowErr
	}
	id := n.ReplacesID
	if _, ok := r.open[id]; id == 0 || !ok {
		r.next++
		id = r.next
	}
	r.open[id] = n
	r.shown = append(r.shown, Shown{Notification: n, ID: id})
	return id, nil
}

func (r *Recorder) Close(id notify.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CloseErr != nil {
		return r.CloseErr
	}
	delete(r.open, id)
	r.closed = append(r.closed, id)
	return nil
}

// Shown returns a copy of all Show calls in order.
func (r *Recorder) Shown() []Shown {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Shown(nil), r.shown...)
}

// Last returns the most recent Show call.
func (r *Recorder) Last() (Shown, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.shown) == 0 {
		return Shown{}, false
	}
	return r.shown[len(r.shown)-1], true
}

// Closed returns the IDs passed to Close in order.
func (r *Recorder) Closed() []notify.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.ID(nil), r.closed...)
}

// Open returns the notifications currently displayed, keyed by ID.
func (r *Recorder) Open() map[notify.ID]notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[notify.ID]notify.Notification, len(r.open))
	for k, v := range r.open {
		out[k] = v
	}
	return out
}
