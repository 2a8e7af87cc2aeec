// Package watch re-runs the sync whenever files below the source directory
// change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/schaermu/wikisync/internal/config"
	"github.com/schaermu/wikisync/internal/site"
)

// RunFunc performs one sync
type RunFunc func(ctx context.Context) error

// adder registers a directory with the event source
type adder interface {
	Add(name string) error
}

// Watcher triggers debounced syncs on source changes
type Watcher struct {
	cfg         *config.Config
	fs          afero.Fs
	run         RunFunc
	logger      *slog.Logger
	syncMu      sync.Mutex // guards syncRunning and syncPending
	syncRunning bool       // whether a sync is currently in progress
	syncPending bool       // whether another sync is needed after the current one
	stopped     bool       // set on shutdown, no new syncs start afterwards
	inflight    sync.WaitGroup
	debounce    *debouncer

	// watching is closed once the initial directory tree is registered
	watching chan struct{}
}

// debouncer collapses bursts of events into a single callback
type debouncer struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	timer    clockwork.Timer
	delay    time.Duration
	callback func()
}

// New creates a watcher for cfg.SrcDir. fsys must be backed by the same
// directory tree the operating system reports events for.
func New(cfg *config.Config, fsys afero.Fs, run RunFunc, logger *slog.Logger, clock clockwork.Clock) *Watcher {
	return &Watcher{
		cfg:    cfg,
		fs:     fsys,
		run:    run,
		logger: logger,
		debounce: &debouncer{
			clock: clock,
			delay: cfg.Watch.Debounce,
		},
		watching: make(chan struct{}),
	}
}

// Start performs an initial sync, then watches the source tree until ctx is
// cancelled
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("performing initial sync before watching")
	w.performSync(ctx)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	if err := w.addTree(fsw, w.cfg.SrcDir); err != nil {
		return err
	}
	close(w.watching)
	w.logger.Info("watching for changes", "src", w.cfg.SrcDir, "debounce", w.cfg.Watch.Debounce)

	for {
		select {
		case <-ctx.Done():
			w.stop()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// stop cancels a scheduled sync and waits for a running one to finish, so
// the sync map is saved before the process exits
func (w *Watcher) stop() {
	w.debounce.stop()

	w.syncMu.Lock()
	w.stopped = true
	running := w.syncRunning
	w.syncMu.Unlock()

	if running {
		w.logger.Info("waiting for running sync to finish")
	}
	w.inflight.Wait()
	w.logger.Info("stopping watcher")
}

// handleEvent registers new directories and schedules a sync for relevant
// changes
func (w *Watcher) handleEvent(ctx context.Context, a adder, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := w.fs.Stat(event.Name); err == nil && info.IsDir() && !w.skipped(event.Name) {
			if err := w.addTree(a, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	if !w.relevant(event) {
		return
	}

	w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
	w.debounce.trigger(func() {
		w.performSync(ctx)
	})
}

// relevant reports whether event may change what gets uploaded
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	if w.skipped(event.Name) {
		return false
	}
	return site.ClassifyExtension(event.Name) != site.Unsupported
}

// skipped reports whether path lies outside the published tree: version
// control directories, the build directory and anything outside the source
// directory
func (w *Watcher) skipped(path string) bool {
	buildDir := filepath.Clean(w.cfg.BuildDir)
	clean := filepath.Clean(path)
	if clean == buildDir || strings.HasPrefix(clean, buildDir+string(filepath.Separator)) {
		return true
	}

	rel, err := filepath.Rel(w.cfg.SrcDir, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if site.IsVCSDir(part) {
			return true
		}
	}
	return false
}

// addTree registers root and every directory below it. fsnotify does not
// watch recursively.
func (w *Watcher) addTree(a adder, root string) error {
	return afero.Walk(w.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && w.skipped(path) {
			return filepath.SkipDir
		}
		if err := a.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// performSync runs a sync with single-flight semantics.
// If a sync is already in progress, at most one additional run is queued;
// further concurrent requests are dropped to avoid unbounded goroutine pile-up.
func (w *Watcher) performSync(ctx context.Context) {
	w.syncMu.Lock()
	if w.stopped {
		w.syncMu.Unlock()
		return
	}
	if w.syncRunning {
		w.syncPending = true
		w.syncMu.Unlock()
		w.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	w.syncRunning = true
	w.inflight.Add(1)
	w.syncMu.Unlock()
	defer w.inflight.Done()

	for {
		if ctx.Err() != nil {
			w.syncMu.Lock()
			w.syncRunning = false
			w.syncPending = false
			w.syncMu.Unlock()
			return
		}

		if err := w.run(ctx); err != nil {
			w.logger.Error("sync failed", "error", err)
		}

		// Atomically check whether another sync was requested while we were
		// running. If not, release the running slot and stop; if yes, clear
		// the flag and loop to service that one pending request.
		w.syncMu.Lock()
		if !w.syncPending {
			w.syncRunning = false
			w.syncMu.Unlock()
			break
		}
		w.syncPending = false
		w.syncMu.Unlock()

		w.logger.Info("re-running sync due to pending request")
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a scheduled callback
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
