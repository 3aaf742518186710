package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// fileStamp identifies one version of the watched file. The modification
// time is a cheap pre-check; the content hash decides.
type fileStamp struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and reports content changes that still form a
// valid config. An invalid edit is logged and the previous config stays
// current until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval; non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. onChange runs on the [Watcher.Run]
// goroutine for every accepted change, outside the watcher's lock.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	cfg, stamp, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.stamp = cfg, stamp
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if old, cfg := w.poll(); cfg != nil && w.onChange != nil {
				w.onChange(old, cfg)
			}
		}
	}
}

// poll returns the previous and new config when the file changed to a new
// valid config, and a nil new config otherwise.
func (w *Watcher) poll() (old, cfg *Config) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return nil, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.stamp.mtime) {
		return nil, nil
	}

	next, stamp, err := readConfig(w.path)
	if err != nil {
		// Remember the mtime so a broken file is reported once, not per tick.
		w.stamp.mtime = info.ModTime()
		slog.Warn("config: keeping previous config", "path", w.path, "err", err)
		return nil, nil
	}
	unchanged := stamp.hash == w.stamp.hash
	w.stamp = stamp
	if unchanged {
		return nil, nil
	}

	old, w.current = w.current, next
	slog.Info("config: configuration reloaded", "path", w.path)
	return old, next
}

func readConfig(path string) (*Config, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
