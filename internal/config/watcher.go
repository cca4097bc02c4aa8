package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// Watcher polls the server's config file and hands every valid revision that
// changes an effective setting to a callback. Comment or formatting edits
// and files that fail validation never reach it.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu       sync.Mutex
	current  *Config
	revision int
	modTime  time.Time
	sum      [sha256.Size]byte
	lastErr  string

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for reload events. Defaults to
// slog.Default().
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it. The initial file must be
// valid. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.modTime = info.ModTime()
	w.sum = sha256.Sum256(data)

	go w.poll()
	return w, nil
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Revision counts the reloads handed to the callback since start.
func (w *Watcher) Revision() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.revision
}

// Stop ends polling and waits for an in-progress check, callback included.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.warnOnce("cannot stat config", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	info, data, err := w.read()
	if err != nil {
		w.warnOnce("cannot read config", err)
		return
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	w.modTime = info.ModTime()
	if sum == w.sum {
		w.mu.Unlock()
		return
	}
	w.sum = sum
	w.mu.Unlock()

	cfg, err := parse(data)
	if err != nil {
		w.warnOnce("keeping previous config", err)
		return
	}

	w.mu.Lock()
	old := w.current
	d := Diff(old, cfg)
	w.current = cfg
	w.lastErr = ""
	if d.Empty() {
		w.mu.Unlock()
		w.log.Debug("config rewritten without effective change", "path", w.path)
		return
	}
	w.revision++
	rev := w.revision
	w.mu.Unlock()

	w.log.Info("config reloaded",
		"path", w.path,
		"revision", rev,
		"log_level_changed", d.LogLevelChanged,
		"interview_changed", d.InterviewChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) read() (os.FileInfo, []byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, err
	}
	return info, data, nil
}

// warnOnce logs err unless the previous check failed the same way.
func (w *Watcher) warnOnce(msg string, err error) {
	w.mu.Lock()
	repeat := w.lastErr == err.Error()
	w.lastErr = err.Error()
	w.mu.Unlock()
	if !repeat {
		w.log.Warn("config watcher: "+msg, "path", w.path, "err", err)
	}
}
