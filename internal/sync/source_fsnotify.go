package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySource is the portable Source. fsnotify reports a file moved into a
// watched directory as Create, so this backend cannot deliver KindMovedIn;
// such files surface as KindCreated.
type fsnotifySource struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	events chan FileEvent
	errs   chan error
	done   chan struct{}
	wg     gosync.WaitGroup
	once   gosync.Once
}

func newFsnotifySource(logger *slog.Logger) (Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sync: creating fsnotify watcher: %w", err)
	}

	s := &fsnotifySource{
		watcher: w,
		logger:  logger,
		events:  make(chan FileEvent, sourceBufferSize),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *fsnotifySource) Events() <-chan FileEvent { return s.events }
func (s *fsnotifySource) Errors() <-chan error     { return s.errs }

// AddRecursive watches dir and every directory below it. Subdirectories that
// cannot be watched are logged and skipped; failure on dir itself is returned.
func (s *fsnotifySource) AddRecursive(dir string) error {
	if err := s.watcher.Add(dir); err != nil {
		return fmt.Errorf("sync: watching %s: %w", dir, err)
	}

	return s.addSubdirs(dir)
}

func (s *fsnotifySource) addSubdirs(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("walk error while adding watches",
				slog.String("path", path), slog.String("error", err.Error()))

			return skipEntry(d)
		}

		if path == dir || !d.IsDir() {
			return nil
		}

		if addErr := s.watcher.Add(path); addErr != nil {
			s.logger.Warn("failed to watch subdirectory",
				slog.String("path", path), slog.String("error", addErr.Error()))

			return filepath.SkipDir
		}

		return nil
	})
}

// Close stops the reader goroutine and releases the watcher. Idempotent.
func (s *fsnotifySource) Close() error {
	var err error

	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
	})

	return err
}

func (s *fsnotifySource) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			s.handle(ev)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}

			if errors.Is(err, fsnotify.ErrEventOverflow) {
				err = fmt.Errorf("%w: %w", ErrNotificationOverflow, err)
			}

			select {
			case s.errs <- err:
			case <-s.done:
				return
			}
		}
	}
}

func (s *fsnotifySource) handle(ev fsnotify.Event) {
	kind, ok := fsnotifyKind(ev.Op)
	if !ok {
		return
	}

	// New directories join the watch set before their event is delivered.
	if kind == KindCreated {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if addErr := s.AddRecursive(ev.Name); addErr != nil {
				s.logger.Warn("failed to watch new directory",
					slog.String("path", ev.Name), slog.String("error", addErr.Error()))
			}
		}
	}

	select {
	case s.events <- FileEvent{Path: ev.Name, Kind: kind}:
	case <-s.done:
	}
}

// fsnotifyKind maps an fsnotify op set to one event kind. Chmod-only events
// carry no content change and are dropped.
func fsnotifyKind(op fsnotify.Op) (EventKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreated, true
	case op.Has(fsnotify.Write):
		return KindModified, true
	case op.Has(fsnotify.Remove):
		return KindDeleted, true
	case op.Has(fsnotify.Rename):
		return KindMovedSelf, true
	default:
		return 0, false
	}
}

// skipEntry returns filepath.SkipDir for directories (to skip the subtree)
// or nil for files (to continue the walk with the next entry).
func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
