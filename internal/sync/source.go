package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
)

// Watch backend names accepted by NewSource.
const (
	BackendAuto     = "auto"
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// sourceBufferSize is the depth of a Source's outgoing event channel. When it
// is full the reader stops draining the kernel, and the kernel queue is the
// only remaining buffer.
const sourceBufferSize = 64

// ErrNotificationOverflow is delivered on Source.Errors when the kernel event
// queue overflowed and notifications were lost.
var ErrNotificationOverflow = errors.New("sync: filesystem notification queue overflowed, events were lost")

// ErrUnsupportedBackend is returned for a backend this platform lacks.
var ErrUnsupportedBackend = errors.New("sync: watch backend not supported on this platform")

// Source delivers filesystem events for recursively watched directories.
// Directories created (or moved in) under a watched tree are watched
// automatically. Abstracted for testing.
type Source interface {
	AddRecursive(dir string) error
	Events() <-chan FileEvent
	Errors() <-chan error
	Close() error
}

// NewSource opens the named backend. "auto" picks inotify on Linux and
// fsnotify elsewhere.
func NewSource(backend string, logger *slog.Logger) (Source, error) {
	if backend == BackendAuto || backend == "" {
		backend = BackendFsnotify
		if runtime.GOOS == "linux" {
			backend = BackendInotify
		}
	}

	switch backend {
	case BackendInotify:
		return newInotifySource(logger)
	case BackendFsnotify:
		return newFsnotifySource(logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
}
