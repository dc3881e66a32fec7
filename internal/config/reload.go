package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloadable is implemented by components that can apply configuration
// updates at runtime. Errors are logged; remaining subscribers are
// still notified.
type Reloadable interface {
	OnConfigReload(newCfg *Config) error
}

// Reloader re-reads the config file on SIGHUP and, when watch_file is
// set, on file changes (debounced, since editors fire several events
// per save). An invalid replacement is rejected and the active config
// kept.
type Reloader struct {
	path     string
	active   atomic.Pointer[Config]
	logger   *slog.Logger
	debounce time.Duration
	watch    bool

	mu   sync.Mutex
	subs []Reloadable

	timerMu sync.Mutex
	timer   *time.Timer

	watcher *fsnotify.Watcher
	hup     chan os.Signal
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReloader creates a Reloader for the config file at path, with
// initialCfg as the active configuration.
func NewReloader(path string, initialCfg *Config, logger *slog.Logger) *Reloader {
	r := &Reloader{
		path:     path,
		logger:   logger,
		debounce: initialCfg.Reload.Debounce.Duration,
		watch:    initialCfg.Reload.WatchFile,
		done:     make(chan struct{}),
	}
	r.active.Store(initialCfg)
	return r
}

// Register subscribes a component to reload notifications. Call before
// Start.
func (r *Reloader) Register(sub Reloadable) {
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
}

// Current returns the active configuration. Safe for concurrent use.
func (r *Reloader) Current() *Config {
	return r.active.Load()
}

// Start installs the SIGHUP handler and, if enabled, the file watcher,
// then returns. The watch loop runs until the context is canceled or
// Stop is called.
func (r *Reloader) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.hup = make(chan os.Signal, 1)
	signal.Notify(r.hup, syscall.SIGHUP)

	if r.watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating file watcher: %w", err)
		}
		if err := w.Add(r.path); err != nil {
			w.Close()
			return fmt.Errorf("watching config file %q: %w", r.path, err)
		}
		r.watcher = w
		r.logger.Info("watching config file", "path", r.path, "debounce", r.debounce)
	}

	go r.loop(ctx)
	return nil
}

// Stop tears down the signal handler and file watcher and waits for
// the watch loop to exit.
func (r *Reloader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

// Reload re-reads and validates the config file, swaps it in, and
// notifies subscribers. The previous config stays active if the file
// fails to load or validate.
func (r *Reloader) Reload() error {
	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload rejected, keeping active config", "error", err, "path", r.path)
		return fmt.Errorf("config reload: %w", err)
	}

	changes := Diff(r.active.Load(), newCfg)
	if len(changes) == 0 {
		r.logger.Info("config reload: nothing changed", "path", r.path)
		return nil
	}
	r.logChanges(changes)

	r.active.Store(newCfg)
	r.notify(newCfg)

	r.logger.Info("config reloaded", "path", r.path, "changes", len(changes))
	return nil
}

func (r *Reloader) logChanges(changes []Change) {
	restart := 0
	for _, c := range changes {
		if c.Reloadable {
			r.logger.Info("config change applied",
				"field", c.Field, "old", fmt.Sprint(c.OldValue), "new", fmt.Sprint(c.NewValue))
			continue
		}
		restart++
		r.logger.Warn("config change needs a restart, ignored",
			"field", c.Field, "old", fmt.Sprint(c.OldValue), "new", fmt.Sprint(c.NewValue))
	}
	if restart > 0 {
		r.logger.Warn("restart required for some config changes", "count", restart)
	}
}

func (r *Reloader) notify(cfg *Config) {
	r.mu.Lock()
	subs := append([]Reloadable(nil), r.subs...)
	r.mu.Unlock()

	for _, sub := range subs {
		if err := sub.OnConfigReload(cfg); err != nil {
			r.logger.Error("subscriber rejected config reload",
				"error", err, "subscriber", fmt.Sprintf("%T", sub))
		}
	}
}

func (r *Reloader) loop(ctx context.Context) {
	defer close(r.done)
	defer signal.Stop(r.hup)
	if r.watcher != nil {
		defer r.watcher.Close()
	}
	defer r.stopTimer()

	events, errs := r.watchChannels()

	for {
		select {
		case <-ctx.Done():
			return

		case sig := <-r.hup:
			r.logger.Info("reloading config on signal", "signal", sig)
			if err := r.Reload(); err != nil {
				r.logger.Error("signal-triggered reload failed", "error", err)
			}

		case ev, ok := <-events:
			if !ok {
				return
			}
			// Editors save by write or by rename-and-replace.
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				r.scheduleReload()
			}

		case err, ok := <-errs:
			if !ok {
				return
			}
			r.logger.Error("config watcher error", "error", err)
		}
	}
}

// scheduleReload arms (or re-arms) the debounce timer; the reload runs
// once the file has been quiet for the debounce window.
func (r *Reloader) scheduleReload() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		r.logger.Info("config file changed, reloading", "path", r.path)
		// Rename-and-replace drops the watch on the old inode.
		_ = r.watcher.Add(r.path)
		if err := r.Reload(); err != nil {
			r.logger.Error("file-triggered reload failed", "error", err)
		}
	})
}

func (r *Reloader) stopTimer() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

// watchChannels returns the watcher's channels, or nil channels when
// file watching is disabled so the select cases stay dormant.
func (r *Reloader) watchChannels() (<-chan fsnotify.Event, <-chan error) {
	if r.watcher == nil {
		return nil, nil
	}
	return r.watcher.Events, r.watcher.Errors
}
