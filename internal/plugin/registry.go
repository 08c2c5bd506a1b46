// Package plugin loads event watchers and gives each a Context bound to its
// configuration section and the shared notification sink.
package plugin

import (
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"sysnotifier/internal/config"
	logx "sysnotifier/pkg/logx"
)

var (
	ErrUnknownWatcher = errors.New("unknown watcher")
	errNoBuses        = errors.New("no bus provider")
)

// Watcher is a loaded event source. Close must release its subscriptions.
type Watcher interface {
	Close() error
}

// Factory builds a watcher. It subscribes to whatever the watcher needs and
// returns; events arrive later as handlers on the context's loop.
type Factory func(ctx *Context) (Watcher, error)

// WatcherFunc adapts a close function to Watcher.
type WatcherFunc func() error

func (f WatcherFunc) Close() error {
	if f == nil {
		return nil
	}
	return f()
}

// Loaded is a watcher that came up successfully.
type Loaded struct {
	Name    string
	Watcher Watcher
	Context *Context
}

type Registry struct {
	log  logx.Logger
	deps Deps

	mu        sync.Mutex
	factories map[string]Factory
	loaded    []Loaded
}

func NewRegistry(log logx.Logger, deps Deps) *Registry {
	if deps.Logger.IsZero() {
		deps.Logger = log
	}
	return &Registry{log: log, deps: deps, factories: map[string]Factory{}}
}

// Register adds (or replaces) the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names lists registered watchers, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EnabledList returns the watcher identifiers to load, in order. A non-empty
// explicit list wins, then main.enabled_plugins, then the built-in default.
// Duplicates keep their first position.
func EnabledList(cfg ConfigSource, explicit string) []string {
	raw := strings.TrimSpace(explicit)
	if raw == "" {
		raw = config.DefaultEnabledPlugins
		if cfg != nil {
			if v, ok := cfg.Get("main", "enabled_plugins"); ok {
				raw = v
			}
		}
	}

	var out []string
	for _, name := range config.SplitList(raw) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// LoadAll builds every enabled watcher. A watcher that is unknown, fails or
// panics is logged and skipped; the others still load.
func (r *Registry) LoadAll(explicit string) []Loaded {
	names := EnabledList(r.deps.Config, explicit)
	r.log.Info("enabled watchers", logx.Strings("plugins", names))

	var loaded []Loaded
	for _, name := range names {
		r.mu.Lock()
		f := r.factories[name]
		r.mu.Unlock()

		if f == nil {
			r.log.Error("watcher load failed", logx.String("plugin", name), logx.Err(ErrUnknownWatcher))
			continue
		}

		ctx := NewContext(name, r.deps)
		start := time.Now()
		var w Watcher
		err := r.safeCall("load "+name, func() error {
			var err error
			w, err = f(ctx)
			return err
		})
		if err != nil {
			r.log.Error("watcher load failed", logx.String("plugin", name), logx.Err(err))
			continue
		}
		if w == nil {
			w = WatcherFunc(nil)
		}
		loaded = append(loaded, Loaded{Name: name, Watcher: w, Context: ctx})
		r.log.Info("watcher loaded", logx.String("plugin", name), logx.Duration("took", time.Since(start)))
	}

	r.mu.Lock()
	r.loaded = append(r.loaded, loaded...)
	r.mu.Unlock()
	return loaded
}

// CloseAll closes loaded watchers in reverse load order.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	loaded := r.loaded
	r.loaded = nil
	r.mu.Unlock()

	var errs []error
	for i := len(loaded) - 1; i >= 0; i-- {
		l := loaded[i]
		if err := r.safeCall("close "+l.Name, l.Watcher.Close); err != nil {
			r.log.Warn("watcher close failed", logx.String("plugin", l.Name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", l.Name, err))
			continue
		}
		r.log.Debug("watcher closed", logx.String("plugin", l.Name))
	}
	return errors.Join(errs...)
}

func (r *Registry) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, rec)
		}
	}()
	return fn()
}
