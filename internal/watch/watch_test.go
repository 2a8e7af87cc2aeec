package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/wikisync/internal/config"
	"github.com/schaermu/wikisync/internal/testutil"
)

const debounce = 2 * time.Second

func testConfig(dir string) *config.Config {
	cfg := testutil.Config(dir)
	cfg.Watch.Debounce = debounce
	return cfg
}

// recordingAdder records registered directories
type recordingAdder struct {
	dirs []string
}

func (r *recordingAdder) Add(name string) error {
	r.dirs = append(r.dirs, name)
	return nil
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDebouncer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &debouncer{clock: clock, delay: debounce}
	calls := make(chan struct{}, 10)

	// Trigger repeatedly, each time before the delay elapses
	for i := 0; i < 5; i++ {
		d.trigger(func() { calls <- struct{}{} })
		clock.Advance(debounce / 2)
	}
	assert.Empty(t, calls)

	clock.Advance(debounce)
	waitFor(t, calls, "debounced callback")

	select {
	case <-calls:
		t.Fatal("callback ran more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncer_Stop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &debouncer{clock: clock, delay: debounce}
	var called atomic.Bool

	d.trigger(func() { called.Store(true) })
	d.stop()
	clock.Advance(2 * debounce)
	time.Sleep(50 * time.Millisecond)

	assert.False(t, called.Load())
}

func TestRelevant(t *testing.T) {
	cfg := testConfig("/site")
	cfg.BuildDir = filepath.Join(cfg.SrcDir, "build")
	w := New(cfg, afero.NewMemMapFs(), nil, testutil.Logger(), clockwork.NewFakeClock())

	src := cfg.SrcDir
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"html write", fsnotify.Event{Name: filepath.Join(src, "index.html"), Op: fsnotify.Write}, true},
		{"new asset", fsnotify.Event{Name: filepath.Join(src, "assets", "a.png"), Op: fsnotify.Create}, true},
		{"renamed css", fsnotify.Event{Name: filepath.Join(src, "css", "a.css"), Op: fsnotify.Rename}, true},
		{"chmod only", fsnotify.Event{Name: filepath.Join(src, "index.html"), Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: filepath.Join(src, "index.html"), Op: fsnotify.Remove}, false},
		{"unsupported", fsnotify.Event{Name: filepath.Join(src, "notes.md"), Op: fsnotify.Write}, false},
		{"editor swap file", fsnotify.Event{Name: filepath.Join(src, ".index.html.swp"), Op: fsnotify.Write}, false},
		{"dotfile asset", fsnotify.Event{Name: filepath.Join(src, "assets", ".logo.png"), Op: fsnotify.Write}, true},
		{"hidden dir", fsnotify.Event{Name: filepath.Join(src, ".well-known", "x.txt"), Op: fsnotify.Create}, true},
		{"vcs dir", fsnotify.Event{Name: filepath.Join(src, ".git", "x.js"), Op: fsnotify.Write}, false},
		{"nested vcs dir", fsnotify.Event{Name: filepath.Join(src, "lib", ".hg", "a.css"), Op: fsnotify.Write}, false},
		{"build output", fsnotify.Event{Name: filepath.Join(src, "build", "index.html"), Op: fsnotify.Write}, false},
		{"outside source", fsnotify.Event{Name: "/elsewhere/index.html", Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(tt.event))
		})
	}
}

func TestAddTree(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := testConfig("/site")
	cfg.BuildDir = filepath.Join(cfg.SrcDir, "build")
	testutil.WriteTree(t, fsys, cfg.SrcDir, map[string]string{
		"index.html":          "x",
		"about/index.html":    "x",
		"assets/img/logo.png": "x",
		".git/HEAD":           "x",
		".well-known/x.txt":   "x",
		"build/index.html":    "x",
	})
	w := New(cfg, fsys, nil, testutil.Logger(), clockwork.NewFakeClock())

	a := &recordingAdder{}
	require.NoError(t, w.addTree(a, cfg.SrcDir))

	assert.ElementsMatch(t, []string{
		cfg.SrcDir,
		filepath.Join(cfg.SrcDir, "about"),
		filepath.Join(cfg.SrcDir, "assets"),
		filepath.Join(cfg.SrcDir, "assets", "img"),
		filepath.Join(cfg.SrcDir, ".well-known"),
	}, a.dirs)
}

func TestHandleEvent_WatchesNewDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := testConfig("/site")
	testutil.WriteTree(t, fsys, cfg.SrcDir, map[string]string{"team/members/index.html": "x"})
	clock := clockwork.NewFakeClock()
	w := New(cfg, fsys, func(context.Context) error { return nil }, testutil.Logger(), clock)

	a := &recordingAdder{}
	w.handleEvent(context.Background(), a, fsnotify.Event{Name: filepath.Join(cfg.SrcDir, "team"), Op: fsnotify.Create})

	assert.Equal(t, []string{
		filepath.Join(cfg.SrcDir, "team"),
		filepath.Join(cfg.SrcDir, "team", "members"),
	}, a.dirs)
}

func TestHandleEvent_DebouncesSync(t *testing.T) {
	cfg := testConfig("/site")
	clock := clockwork.NewFakeClock()
	runs := make(chan struct{}, 10)
	w := New(cfg, afero.NewMemMapFs(), func(context.Context) error {
		runs <- struct{}{}
		return nil
	}, testutil.Logger(), clock)

	ctx := context.Background()
	a := &recordingAdder{}
	for _, name := range []string{"index.html", "css/a.css", "js/a.js"} {
		w.handleEvent(ctx, a, fsnotify.Event{Name: filepath.Join(cfg.SrcDir, name), Op: fsnotify.Write})
	}
	w.handleEvent(ctx, a, fsnotify.Event{Name: filepath.Join(cfg.SrcDir, "notes.md"), Op: fsnotify.Write})

	clock.Advance(debounce)
	waitFor(t, runs, "debounced sync")

	select {
	case <-runs:
		t.Fatal("burst of events caused more than one sync")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPerformSync_SingleFlight verifies that concurrent performSync calls use
// single-flight semantics: at most one sync runs at a time and at most one
// additional run is queued; excess concurrent requests are dropped.
func TestPerformSync_SingleFlight(t *testing.T) {
	started := make(chan struct{}, 10)
	proceed := make(chan struct{})
	var runs atomic.Int32

	w := New(testConfig("/site"), afero.NewMemMapFs(), func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-proceed
		return nil
	}, testutil.Logger(), clockwork.NewFakeClock())

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.performSync(ctx)
	}()
	waitFor(t, started, "first sync")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.performSync(ctx)
		}()
	}
	wg.Wait()

	w.syncMu.Lock()
	pending := w.syncPending
	w.syncMu.Unlock()
	assert.True(t, pending, "expected a pending re-run")

	close(proceed)
	waitFor(t, done, "performSync to return")

	assert.Equal(t, int32(2), runs.Load(), "expected the first sync plus exactly one re-run")
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	assert.False(t, w.syncRunning)
	assert.False(t, w.syncPending)
}

func TestPerformSync_LogsFailure(t *testing.T) {
	var runs atomic.Int32
	w := New(testConfig("/site"), afero.NewMemMapFs(), func(context.Context) error {
		runs.Add(1)
		return errors.New("wiki unreachable")
	}, testutil.Logger(), clockwork.NewFakeClock())

	w.performSync(context.Background())
	w.performSync(context.Background())

	assert.Equal(t, int32(2), runs.Load(), "a failed sync must not block later ones")
}

func TestStart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.SrcDir, "about"), 0755))
	index := filepath.Join(cfg.SrcDir, "about", "index.html")
	require.NoError(t, os.WriteFile(index, []byte("v1"), 0644))

	clock := clockwork.NewFakeClock()
	runs := make(chan struct{}, 10)
	w := New(cfg, afero.NewOsFs(), func(context.Context) error {
		runs <- struct{}{}
		return nil
	}, testutil.Logger(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	waitFor(t, runs, "initial sync")
	waitFor(t, w.watching, "watches to be registered")

	require.NoError(t, os.WriteFile(index, []byte("v2"), 0644))

	blockCtx, blockCancel := context.WithTimeout(ctx, 5*time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1), "change did not arm the debounce timer")

	// A single write may be reported as several events, each re-arming the timer
	deadline := time.After(5 * time.Second)
	for synced := false; !synced; {
		clock.Advance(debounce)
		select {
		case <-runs:
			synced = true
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for sync after change")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestStart_WaitsForRunningSync(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	require.NoError(t, os.MkdirAll(cfg.SrcDir, 0755))

	var runs atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	finished := make(chan struct{})
	w := New(cfg, afero.NewOsFs(), func(context.Context) error {
		if runs.Add(1) == 1 {
			return nil
		}
		started <- struct{}{}
		<-release
		close(finished)
		return nil
	}, testutil.Logger(), clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()
	waitFor(t, w.watching, "watches to be registered")

	// A debounced sync is uploading when shutdown is requested
	go w.performSync(ctx)
	waitFor(t, started, "second sync")
	cancel()

	select {
	case <-errCh:
		t.Fatal("Start returned while a sync was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the running sync finished")
	}
	waitFor(t, finished, "sync to finish")

	// No sync starts once the watcher stopped
	w.performSync(context.Background())
	assert.Equal(t, int32(2), runs.Load())
}

func TestStart_MissingSourceDir(t *testing.T) {
	cfg := testConfig(t.TempDir())
	w := New(cfg, afero.NewOsFs(), func(context.Context) error { return nil }, testutil.Logger(), clockwork.NewFakeClock())

	err := w.Start(context.Background())
	assert.Error(t, err)
}
