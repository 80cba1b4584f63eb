package sync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type controllerFixture struct {
	ctrl   *WatchController
	source *mockSource
	ft     *fakeTransferer
	sleeps *sleepRecorder
	logs   *syncBuffer
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a logger.
type syncBuffer struct {
	mu  stdsync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func newControllerFixture(t *testing.T, roots []*WatchRoot, firstRootOnly bool, existing ...string) *controllerFixture {
	t.Helper()

	logs := &syncBuffer{}
	env := NewEnv(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	f := &controllerFixture{
		source: newMockSource(),
		ft:     &fakeTransferer{},
		sleeps: &sleepRecorder{},
		logs:   logs,
	}

	ctrl, err := NewWatchController(env, ControllerOptions{
		Roots:           roots,
		Source:          f.source,
		Transfer:        f.ft,
		SettleDelay:     DefaultSettleDelay,
		TransferTimeout: DefaultTransferTimeout,
		FirstRootOnly:   firstRootOnly,
	})
	require.NoError(t, err)

	dirs := make(map[string]bool, len(existing))
	for _, d := range existing {
		dirs[d] = true
	}

	ctrl.isDir = func(path string) bool { return dirs[path] }
	ctrl.coalescer.sleepFunc = f.sleeps.sleep
	f.ctrl = ctrl

	return f
}

// runEvents starts the controller, feeds events, and waits for Run to drain
// them and return.
func (f *controllerFixture) runEvents(t *testing.T, events ...FileEvent) {
	t.Helper()

	require.NoError(t, f.ctrl.Start())

	for _, ev := range events {
		f.source.events <- ev
	}

	close(f.source.events)

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(t.Context()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func siteRoot(t *testing.T, excludes ...string) *WatchRoot {
	t.Helper()

	return mustRoot(t, WatchRoot{
		LocalPath:       "/data/site",
		RemoteHost:      "host",
		RemotePort:      22,
		RemoteUser:      "user",
		RemoteBasePath:  "/srv/site",
		ExcludePatterns: excludes,
	})
}

func TestController_ModifiedDispatches(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	f.runEvents(t, FileEvent{Path: "/data/site/img/logo.png", Kind: KindModified})

	calls := f.ft.getCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/data/site/img/logo.png", calls[0].LocalPath)
	assert.Equal(t, Destination{Host: "host", Port: 22, User: "user", Path: "/srv/site/img/logo.png"}, calls[0].Dest)
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, f.sleeps.getCalls())
	assert.Contains(t, f.logs.String(), "file synced")
}

func TestController_ExcludedNeverDispatches(t *testing.T) {
	t.Parallel()

	root := siteRoot(t, `^.*\.tmp$`)
	f := newControllerFixture(t, []*WatchRoot{root}, true, "/data/site")

	require.True(t, f.ctrl.matcher.Decide("/data/site/draft.tmp").Excluded)

	f.runEvents(t, FileEvent{Path: "/data/site/draft.tmp", Kind: KindModified})

	assert.Empty(t, f.ft.getCalls())
	assert.Empty(t, f.sleeps.getCalls(), "excluded events skip the settle delay")
	assert.Contains(t, f.logs.String(), "path excluded")
}

func TestController_NonContentKindsNeverDispatch(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t, `^.*\.tmp$`)}, true, "/data/site")
	f.runEvents(t,
		FileEvent{Path: "/data/site/new.txt", Kind: KindCreated},
		FileEvent{Path: "/data/site/new.tmp", Kind: KindCreated},
		FileEvent{Path: "/data/site/old.txt", Kind: KindDeleted},
		FileEvent{Path: "/data/site", Kind: KindMovedSelf},
		FileEvent{Path: "/data/site/x", Kind: EventKind(42)},
	)

	assert.Empty(t, f.ft.getCalls())
	assert.Empty(t, f.sleeps.getCalls())
}

func TestController_MovedInDispatches(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	f.runEvents(t, FileEvent{Path: "/data/site/upload.bin", Kind: KindMovedIn})

	calls := f.ft.getCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/srv/site/upload.bin", calls[0].Dest.Path)
}

func TestController_MissingRootSkipped(t *testing.T) {
	t.Parallel()

	missing := mustRoot(t, WatchRoot{LocalPath: "/gone", RemoteBasePath: "/r0"})
	site := siteRoot(t)

	f := newControllerFixture(t, []*WatchRoot{missing, site}, true, "/data/site")
	require.NoError(t, f.ctrl.Start())

	assert.Equal(t, []string{"/data/site"}, f.source.addedDirs())
	require.Len(t, f.ctrl.ActiveRoots(), 1)
	assert.Same(t, site, f.ctrl.ActiveRoots()[0])

	logs := f.logs.String()
	assert.Contains(t, logs, "root skipped")
	assert.Contains(t, logs, "/gone")
	assert.Contains(t, logs, "level=WARN")
}

func TestController_AddRecursiveFailureSkipsRoot(t *testing.T) {
	t.Parallel()

	a := mustRoot(t, WatchRoot{LocalPath: "/a"})
	b := mustRoot(t, WatchRoot{LocalPath: "/b"})

	f := newControllerFixture(t, []*WatchRoot{a, b}, true, "/a", "/b")
	f.source.addErr["/a"] = errors.New("permission denied")

	require.NoError(t, f.ctrl.Start())
	assert.Equal(t, []string{"/b"}, f.source.addedDirs())
	assert.Contains(t, f.logs.String(), "permission denied")
}

func TestController_NoActiveRootsWarns(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true)
	f.runEvents(t, FileEvent{Path: "/data/site/a.txt", Kind: KindModified})

	assert.Empty(t, f.ft.getCalls())
	assert.Contains(t, f.logs.String(), "no configured root could be watched")
}

func TestController_FirstRootOnly(t *testing.T) {
	t.Parallel()

	first := mustRoot(t, WatchRoot{LocalPath: "/one", RemoteBasePath: "/r1"})
	second := mustRoot(t, WatchRoot{LocalPath: "/two", RemoteBasePath: "/r2"})

	f := newControllerFixture(t, []*WatchRoot{first, second}, true, "/one", "/two")
	f.runEvents(t,
		FileEvent{Path: "/two/b.txt", Kind: KindModified},
		FileEvent{Path: "/one/a.txt", Kind: KindModified},
	)

	calls := f.ft.getCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/r1/a.txt", calls[0].Dest.Path)
	assert.Contains(t, f.logs.String(), "ignoring event outside first root")
}

func TestController_FirstRootOnlyUsesFirstActiveRoot(t *testing.T) {
	t.Parallel()

	missing := mustRoot(t, WatchRoot{LocalPath: "/gone", RemoteBasePath: "/r0"})
	second := mustRoot(t, WatchRoot{LocalPath: "/two", RemoteBasePath: "/r2"})

	f := newControllerFixture(t, []*WatchRoot{missing, second}, true, "/two")
	f.runEvents(t, FileEvent{Path: "/two/b.txt", Kind: KindModified})

	calls := f.ft.getCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/r2/b.txt", calls[0].Dest.Path)
}

func TestController_AllRoots(t *testing.T) {
	t.Parallel()

	first := mustRoot(t, WatchRoot{LocalPath: "/one", RemoteBasePath: "/r1"})
	second := mustRoot(t, WatchRoot{LocalPath: "/two", RemoteBasePath: "/r2"})

	f := newControllerFixture(t, []*WatchRoot{first, second}, false, "/one", "/two")
	f.runEvents(t,
		FileEvent{Path: "/two/b.txt", Kind: KindModified},
		FileEvent{Path: "/one/a.txt", Kind: KindModified},
		FileEvent{Path: "/three/c.txt", Kind: KindModified},
	)

	calls := f.ft.getCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/r2/b.txt", calls[0].Dest.Path)
	assert.Equal(t, "/r1/a.txt", calls[1].Dest.Path)
	assert.Contains(t, f.logs.String(), "ignoring event outside every root")
}

func TestController_EventsProcessedInOrder(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	f.runEvents(t,
		FileEvent{Path: "/data/site/1", Kind: KindModified},
		FileEvent{Path: "/data/site/2", Kind: KindModified},
		FileEvent{Path: "/data/site/1", Kind: KindModified},
	)

	calls := f.ft.getCalls()
	require.Len(t, calls, 3, "repeated events are not deduplicated")
	assert.Equal(t, "/data/site/1", calls[0].LocalPath)
	assert.Equal(t, "/data/site/2", calls[1].LocalPath)
	assert.Equal(t, "/data/site/1", calls[2].LocalPath)
}

func TestController_TransferFailureLogged(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	f.ft.result = TransferResult{ExitCode: 1, Output: "lost connection"}

	f.runEvents(t,
		FileEvent{Path: "/data/site/a", Kind: KindModified},
		FileEvent{Path: "/data/site/b", Kind: KindModified},
	)

	assert.Len(t, f.ft.getCalls(), 2, "a failed transfer does not stop later events")

	logs := f.logs.String()
	assert.Contains(t, logs, "transfer failed")
	assert.Contains(t, logs, "lost connection")
	assert.Contains(t, logs, "level=ERROR")
}

func TestController_StateTransitions(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	assert.Equal(t, StateIdle, f.ctrl.State())

	assert.ErrorIs(t, f.ctrl.Run(t.Context()), ErrNotStarted)

	require.NoError(t, f.ctrl.Start())
	assert.Equal(t, StateRunning, f.ctrl.State())
	assert.ErrorIs(t, f.ctrl.Start(), ErrAlreadyStarted)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.NoError(t, f.ctrl.Run(ctx))
	assert.Equal(t, StateStopped, f.ctrl.State())
	assert.True(t, f.source.isClosed())

	assert.ErrorIs(t, f.ctrl.Start(), ErrAlreadyStarted)
	assert.ErrorIs(t, f.ctrl.Run(t.Context()), ErrNotStarted)
}

func TestController_CancelStopsLoop(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	require.NoError(t, f.ctrl.Start())

	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, StateStopped, f.ctrl.State())
	assert.Contains(t, f.logs.String(), "watch loop stopped")
}

func TestController_SourceErrors(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	require.NoError(t, f.ctrl.Start())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	f.source.errs <- ErrNotificationOverflow
	f.source.errs <- errors.New("watch descriptor vanished")
	close(f.source.errs)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after errors channel closed")
	}

	logs := f.logs.String()
	assert.Contains(t, logs, "filesystem notifications lost")
	assert.Contains(t, logs, "filesystem watcher error")
	assert.Contains(t, logs, "watch descriptor vanished")
}

func TestController_HandleEventWithoutSource(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	require.NoError(t, f.ctrl.Start())

	f.ctrl.HandleEvent(t.Context(), FileEvent{Path: "/data/site/a", Kind: KindModified})

	assert.Len(t, f.ft.getCalls(), 1)
}

func TestController_CanceledDuringSettleNeverDispatches(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, []*WatchRoot{siteRoot(t)}, true, "/data/site")
	require.NoError(t, f.ctrl.Start())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	f.ctrl.HandleEvent(ctx, FileEvent{Path: "/data/site/a", Kind: KindModified})

	assert.Empty(t, f.ft.getCalls())
}

func TestNewWatchController_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	env := testEnv(t)

	_, err := NewWatchController(env, ControllerOptions{Transfer: &fakeTransferer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")

	_, err = NewWatchController(env, ControllerOptions{Source: newMockSource()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transferer")
}

func TestWatchSetupError(t *testing.T) {
	t.Parallel()

	err := &WatchSetupError{Path: "/x", Err: errNotDirectory}
	assert.ErrorIs(t, err, errNotDirectory)
	assert.Equal(t, "sync: cannot watch /x: not an existing directory", err.Error())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(7).String())
}

func TestIsExistingDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := writeTestFile(t, dir, "f.txt", "x")

	assert.True(t, isExistingDir(dir))
	assert.False(t, isExistingDir(file))
	assert.False(t, isExistingDir(dir+"/missing"))
}
