//go:build linux

package sync

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// inotifyMask selects the notifications the pipeline understands.
const inotifyMask uint32 = unix.IN_CREATE |
	unix.IN_DELETE |
	unix.IN_MODIFY |
	unix.IN_MOVED_TO |
	unix.IN_MOVE_SELF

// inotifyEventHeaderSize is the fixed-width part of a raw inotify_event; the
// NUL-padded name of length Len follows it in the buffer.
const inotifyEventHeaderSize = int(unsafe.Sizeof(unix.InotifyEvent{}))

// inotifyPollMillis is how often the reader wakes to check for Close.
const inotifyPollMillis = 100

// inotifyReadBufferSize holds many events per read(2).
const inotifyReadBufferSize = 64 * 1024

// inotifySource is the Linux Source built directly on inotify(7). It reports
// every kind precisely, including moved-in and queue overflow.
type inotifySource struct {
	fd     int
	logger *slog.Logger

	mu  gosync.Mutex
	wds map[int32]string // watch descriptor -> directory path

	events chan FileEvent
	errs   chan error
	done   chan struct{}
	wg     gosync.WaitGroup
	once   gosync.Once
}

func newInotifySource(logger *slog.Logger) (Source, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("sync: inotify init: %w", err)
	}

	s := &inotifySource{
		fd:     fd,
		logger: logger,
		wds:    make(map[int32]string),
		events: make(chan FileEvent, sourceBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *inotifySource) Events() <-chan FileEvent { return s.events }
func (s *inotifySource) Errors() <-chan error     { return s.errs }

// AddRecursive watches dir and every directory below it.
func (s *inotifySource) AddRecursive(dir string) error {
	if err := s.addWatch(dir); err != nil {
		return err
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("walk error while adding watches",
				slog.String("path", path), slog.String("error", err.Error()))

			return skipEntry(d)
		}

		if path == dir || !d.IsDir() {
			return nil
		}

		if addErr := s.addWatch(path); addErr != nil {
			s.logger.Warn("failed to watch subdirectory",
				slog.String("path", path), slog.String("error", addErr.Error()))

			return filepath.SkipDir
		}

		return nil
	})
}

func (s *inotifySource) addWatch(dir string) error {
	wd, err := unix.InotifyAddWatch(s.fd, dir, inotifyMask|unix.IN_ONLYDIR)
	if err != nil {
		return fmt.Errorf("sync: inotify watch %s: %w", dir, err)
	}

	s.mu.Lock()
	s.wds[int32(wd)] = dir
	s.mu.Unlock()

	return nil
}

func (s *inotifySource) dirFor(wd int32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, ok := s.wds[wd]

	return dir, ok
}

func (s *inotifySource) forget(wd int32) {
	s.mu.Lock()
	delete(s.wds, wd)
	s.mu.Unlock()
}

// Close stops the reader and closes the inotify descriptor. Idempotent.
func (s *inotifySource) Close() error {
	var err error

	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()

		// The descriptor is closed only after the reader exits so Poll and
		// Read never see a reused fd.
		err = unix.Close(s.fd)
	})

	return err
}

func (s *inotifySource) run() {
	defer s.wg.Done()

	buf := make([]byte, inotifyReadBufferSize)
	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := unix.Poll(pfd, inotifyPollMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			s.sendErr(fmt.Errorf("sync: inotify poll: %w", err))

			return
		}

		if n == 0 {
			continue
		}

		nr, err := unix.Read(s.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}

			s.sendErr(fmt.Errorf("sync: inotify read: %w", err))

			return
		}

		if !s.parse(buf[:nr]) {
			return
		}
	}
}

// parse decodes consecutive raw events. It returns false once Close has been
// requested.
func (s *inotifySource) parse(buf []byte) bool {
	for offset := 0; offset+inotifyEventHeaderSize <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += inotifyEventHeaderSize

		var name string

		if raw.Len > 0 {
			end := offset + int(raw.Len)
			if end > len(buf) {
				return true
			}

			nameBytes := buf[offset:end]
			if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
				nameBytes = nameBytes[:i]
			}

			name = string(nameBytes)
			offset = end
		}

		if !s.handle(raw.Wd, raw.Mask, name) {
			return false
		}
	}

	return true
}

func (s *inotifySource) handle(wd int32, mask uint32, name string) bool {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		return s.sendErr(ErrNotificationOverflow)
	}

	if mask&unix.IN_IGNORED != 0 {
		s.forget(wd)
		return true
	}

	dir, ok := s.dirFor(wd)
	if !ok {
		return true
	}

	path := dir
	if name != "" {
		path = filepath.Join(dir, name)
	}

	kind, ok := inotifyKind(mask)
	if !ok {
		return true
	}

	// New directories join the watch set before their event is delivered.
	if mask&unix.IN_ISDIR != 0 && (kind == KindCreated || kind == KindMovedIn) {
		if err := s.AddRecursive(path); err != nil {
			s.logger.Warn("failed to watch new directory",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	select {
	case s.events <- FileEvent{Path: path, Kind: kind}:
		return true
	case <-s.done:
		return false
	}
}

func (s *inotifySource) sendErr(err error) bool {
	select {
	case s.errs <- err:
		return true
	case <-s.done:
		return false
	}
}

// inotifyKind maps an inotify mask to one event kind.
func inotifyKind(mask uint32) (EventKind, bool) {
	switch {
	case mask&unix.IN_CREATE != 0:
		return KindCreated, true
	case mask&unix.IN_MODIFY != 0:
		return KindModified, true
	case mask&unix.IN_DELETE != 0:
		return KindDeleted, true
	case mask&unix.IN_MOVED_TO != 0:
		return KindMovedIn, true
	case mask&unix.IN_MOVE_SELF != 0:
		return KindMovedSelf, true
	default:
		return 0, false
	}
}
