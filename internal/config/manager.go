package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "sysnotifier/pkg/logx"
)

type Manager struct {
	explicit string
	paths    []string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards the subscriber list and ensures we never send on a channel
	// that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger

	// lastHash tracks the last committed config content so editor save
	// bursts without content changes are not republished.
	lastHash uint64
}

type ManagerOption func(*Manager)

// WithSearchPaths replaces the default candidate files.
func WithSearchPaths(paths ...string) ManagerOption {
	return func(m *Manager) { m.paths = append([]string(nil), paths...) }
}

func WithLogger(log logx.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager reads explicitPath when non-empty; otherwise every existing
// file among the search paths is merged in order.
func NewManager(explicitPath string, opts ...ManagerOption) *Manager {
	m := &Manager{explicit: strings.TrimSpace(explicitPath), paths: SearchPaths()}
	for _, o := range opts {
		o(m)
	}
	if m.explicit != "" {
		m.explicit = absPath(m.explicit)
	}
	for i, p := range m.paths {
		m.paths[i] = absPath(p)
	}
	return m
}

func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Parse reads and merges the configuration without committing it.
// A missing explicit file yields ErrNotFound; missing default files are skipped.
func (m *Manager) Parse() (*Config, error) {
	if m.explicit != "" {
		tree, err := parseFile(m.explicit)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, m.explicit)
			}
			return nil, err
		}
		return build(tree, []string{m.explicit})
	}

	var (
		tree  map[string]any
		files []string
	)
	for _, p := range m.paths {
		t, err := parseFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tree = merge(tree, t)
		files = append(files, p)
	}
	return build(tree, files)
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(struct {
		Main     MainConfig
		Logging  LoggingConfig
		Sections map[string]map[string]string
	}{cfg.Main, cfg.Logging, cfg.sections})
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		// Always deliver the latest config: if the buffer is full, drop the oldest.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
				m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
			}
		}
	}
}

// reload re-parses, skips unchanged content, commits and publishes.
func (m *Manager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish")
		return
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.Strings("files", cfg.Files), logx.String("hash", fmt.Sprintf("%x", h)))
}

// watched returns the candidate files and their existing parent directories.
func (m *Manager) watched() (files map[string]struct{}, dirs []string) {
	cands := m.paths
	if m.explicit != "" {
		cands = []string{m.explicit}
	}
	files = make(map[string]struct{}, len(cands))
	seen := map[string]struct{}{}
	for _, p := range cands {
		files[filepath.Clean(p)] = struct{}{}
		d := filepath.Dir(p)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			dirs = append(dirs, d)
		}
	}
	return files, dirs
}

// Watch reloads the configuration whenever one of its files changes and
// publishes the result to subscribers. It returns when ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	files, dirs := m.watched()
	if len(dirs) == 0 {
		m.log.Debug("config watch disabled: no config directory exists")
		return nil
	}

	// When fsnotify gets into a bad state the watcher may stop delivering
	// events or close its channels. Recreate it with a small backoff.
	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		return wait
	}
	sleep := func(d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	// debounce to avoid reading partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, m.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.log.Warn("config watch init failed", logx.Err(err))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}
		added := 0
		for _, d := range dirs {
			if err := w.Add(d); err != nil {
				m.log.Warn("config watch add failed", logx.Err(err), logx.String("dir", d))
				continue
			}
			added++
		}
		if added == 0 {
			_ = w.Close()
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		m.log.Debug("config watcher started", logx.Strings("dirs", dirs))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if _, hit := files[filepath.Clean(ev.Name)]; !hit {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					m.log.Debug("config change detected; scheduling reload", logx.String("path", ev.Name))
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
					debounce()
					continue
				}
				m.log.Warn("config watch error", logx.Err(err))
			}
		}

		_ = w.Close()
		wait := nextWait()
		m.log.Warn("config watcher stopped; restarting", logx.Duration("backoff", wait))
		if !sleep(wait) {
			return nil
		}
	}
}
