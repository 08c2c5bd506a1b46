// Package eventloop runs every watcher callback on a single goroutine.
//
// Event sources (bus signal readers, subprocess readers, file watchers,
// timers and cron schedules) live in supervised goroutines and only Post
// closures; Run executes those closures one at a time in arrival order.
package eventloop

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sysnotifier/internal/runtime/supervisor"
	logx "sysnotifier/pkg/logx"
)

const (
	defaultQueueSize = 256
	slowHandler      = time.Second
	stopTimeout      = 5 * time.Second
)

// Handler is a unit of work executed on the loop goroutine.
type Handler func()

type task struct {
	name string
	fn   Handler
}

type Loop struct {
	log   logx.Logger
	sup   *supervisor.Supervisor
	queue chan task

	cron *cron.Cron

	done     chan struct{}
	doneOnce sync.Once
}

type Option func(*Loop)

// WithQueueSize sets how many pending handlers may queue before Post blocks.
func WithQueueSize(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.queue = make(chan task, n)
		}
	}
}

func New(log logx.Logger, opts ...Option) *Loop {
	l := &Loop{
		log:   log,
		queue: make(chan task, defaultQueueSize),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	l.sup = supervisor.New(context.Background(), supervisor.WithLogger(log))
	l.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	return l
}

// Context is canceled when the loop shuts down. Source goroutines and
// bounded startup queries derive from it.
func (l *Loop) Context() context.Context { return l.sup.Context() }

// Done is closed once Run has returned and no more handlers will execute.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Post queues fn for execution on the loop. It blocks while the queue is
// full and reports false if the loop is shutting down.
// Handlers running on the loop must not Post into a full queue; use
// AfterFunc or a source goroutine instead.
func (l *Loop) Post(name string, fn Handler) bool {
	if fn == nil {
		return false
	}
	ctx := l.sup.Context()
	if ctx.Err() != nil {
		return false
	}
	select {
	case l.queue <- task{name: name, fn: fn}:
		return true
	case <-ctx.Done():
		return false
	}
}

// AfterFunc posts fn once after d. The returned func cancels a pending
// timer and reports whether it did so.
func (l *Loop) AfterFunc(d time.Duration, name string, fn Handler) (stop func() bool) {
	t := time.AfterFunc(d, func() { l.Post(name, fn) })
	return t.Stop
}

// Every posts fn on the given cron schedule ("@every 30s", "0 */5 * * * *", ...).
func (l *Loop) Every(spec, name string, fn Handler) (cancel func(), err error) {
	id, err := l.cron.AddFunc(spec, func() { l.Post(name, fn) })
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.cron.Remove(id) }) }, nil
}

// Go starts a supervised event-source goroutine.
func (l *Loop) Go(name string, fn func(ctx context.Context) error) {
	l.sup.Go(name, fn)
}

// GoRestart starts a supervised event-source goroutine that is restarted
// with backoff when it fails.
func (l *Loop) GoRestart(name string, fn func(ctx context.Context) error, opts ...supervisor.RestartOption) {
	l.sup.GoRestart(name, fn, opts...)
}

// Sources returns the supervisor counters of the event-source goroutines.
func (l *Loop) Sources() supervisor.Counters { return l.sup.Counters() }

// Run dispatches handlers until ctx is canceled. On return the cron
// scheduler is stopped and source goroutines have been asked to exit.
func (l *Loop) Run(ctx context.Context) error {
	l.cron.Start()
	defer l.shutdown()

	stopped := l.sup.Context().Done()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopped:
			return nil
		case t := <-l.queue:
			l.dispatch(t)
		}
	}
}

// Stop asks a running loop to exit. Useful from handlers.
func (l *Loop) Stop() { l.sup.Cancel() }

func (l *Loop) shutdown() {
	<-l.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	switch err := l.sup.Stop(ctx); {
	case errors.Is(err, context.DeadlineExceeded):
		l.log.Warn("event sources did not stop in time", logx.Duration("timeout", stopTimeout))
	case err != nil:
		l.log.Debug("event source exited with error", logx.Err(err))
	}
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *Loop) dispatch(t task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in loop handler", logx.String("handler", t.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		if d := time.Since(start); d >= slowHandler {
			l.log.Warn("slow loop handler", logx.String("handler", t.name), logx.Duration("took", d))
		}
	}()
	t.fn()
}
