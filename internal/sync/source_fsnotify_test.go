package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourceEventTimeout = 5 * time.Second

// waitForEvent drains src until an event for path with kind arrives.
func waitForEvent(t *testing.T, src Source, path string, kind EventKind) {
	t.Helper()

	deadline := time.After(sourceEventTimeout)

	for {
		select {
		case ev, ok := <-src.Events():
			require.True(t, ok, "events channel closed")

			if ev.Path == path && ev.Kind == kind {
				return
			}
		case err := <-src.Errors():
			t.Fatalf("source error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for %s %s", kind, path)
		}
	}
}

func newTestFsnotifySource(t *testing.T) Source {
	t.Helper()

	src, err := newFsnotifySource(testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	return src
}

func TestFsnotifySource_CreateAndModify(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := newTestFsnotifySource(t)
	require.NoError(t, src.AddRecursive(dir))

	path := filepath.Join(dir, "a.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	waitForEvent(t, src, path, KindCreated)

	_, err = f.WriteString("content")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	waitForEvent(t, src, path, KindModified)

	require.NoError(t, os.Remove(path))
	waitForEvent(t, src, path, KindDeleted)
}

func TestFsnotifySource_ExistingSubdirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))

	src := newTestFsnotifySource(t)
	require.NoError(t, src.AddRecursive(dir))

	path := writeTestFile(t, dir, "a/b/deep.txt", "x")
	waitForEvent(t, src, path, KindModified)
}

func TestFsnotifySource_NewDirectoryWatched(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := newTestFsnotifySource(t)
	require.NoError(t, src.AddRecursive(dir))

	sub := filepath.Join(dir, "new")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitForEvent(t, src, sub, KindCreated)

	path := writeTestFile(t, dir, "new/file.txt", "x")
	waitForEvent(t, src, path, KindModified)
}

func TestFsnotifySource_AddMissingDir(t *testing.T) {
	t.Parallel()

	src := newTestFsnotifySource(t)

	err := src.AddRecursive(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watching")
}

func TestFsnotifySource_CloseIdempotent(t *testing.T) {
	t.Parallel()

	src, err := newFsnotifySource(testLogger(t))
	require.NoError(t, err)

	require.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}

func TestFsnotifyKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op     fsnotify.Op
		want   EventKind
		wantOK bool
	}{
		{fsnotify.Create, KindCreated, true},
		{fsnotify.Create | fsnotify.Write, KindCreated, true},
		{fsnotify.Write, KindModified, true},
		{fsnotify.Remove, KindDeleted, true},
		{fsnotify.Rename, KindMovedSelf, true},
		{fsnotify.Chmod, 0, false},
	}

	for _, tt := range tests {
		got, ok := fsnotifyKind(tt.op)
		assert.Equal(t, tt.wantOK, ok, tt.op.String())
		assert.Equal(t, tt.want, got, tt.op.String())
	}
}

func TestNewSource_Backends(t *testing.T) {
	t.Parallel()

	src, err := NewSource(BackendFsnotify, testLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &fsnotifySource{}, src)
	require.NoError(t, src.Close())

	_, err = NewSource("kqueue", testLogger(t))
	require.ErrorIs(t, err, ErrUnsupportedBackend)
	assert.Contains(t, err.Error(), `"kqueue"`)
}
