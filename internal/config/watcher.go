package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] re-reads its file.
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives the previous and the newly loaded config together with
// their [Diff]. It runs on the watcher goroutine.
type ReloadFunc func(prev, next *Config, d ConfigDiff)

// Watcher re-reads a config file on an interval and hands every effective
// change to a [ReloadFunc]. Edits that do not change the decoded config
// (comments, key order) are ignored. An invalid file is logged, recorded in
// [Watcher.LastError] and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	hash    [sha256.Size]byte
	lastErr error

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts watching it. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.hash = cfg, hash

	w.wg.Add(1)
	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// LastError returns why the latest changed file was rejected, or nil once a
// valid file has been loaded again.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Stop ends polling and waits for an in-progress reload to finish. No
// callback runs after Stop returns.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) poll() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	if hash == w.hash {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	next, err := LoadFromReader(bytes.NewReader(data))

	w.mu.Lock()
	w.hash = hash
	if err != nil {
		w.lastErr = err
		w.mu.Unlock()
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}
	prev := w.current
	w.current, w.lastErr = next, nil
	w.mu.Unlock()

	d := Diff(prev, next)
	if !d.Changed() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"interview_changed", d.InterviewChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onReload != nil {
		w.onReload(prev, next, d)
	}
}

// read loads and validates the file and returns it with its content hash.
func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
