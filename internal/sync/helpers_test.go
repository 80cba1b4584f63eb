package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testEnv(t *testing.T) *Env {
	t.Helper()

	return NewEnv(testLogger(t))
}

func mustRoot(t *testing.T, def WatchRoot) *WatchRoot {
	t.Helper()

	r, err := NewWatchRoot(def)
	if err != nil {
		t.Fatalf("NewWatchRoot(%s): %v", def.LocalPath, err)
	}

	return r
}

func writeTestFile(t *testing.T, dir, relPath, content string) string {
	t.Helper()

	fullPath := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", filepath.Dir(fullPath), err)
	}

	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", fullPath, err)
	}

	return fullPath
}

// ---------------------------------------------------------------------------
// Mock source
// ---------------------------------------------------------------------------

// mockSource implements Source with injectable channels.
type mockSource struct {
	mu        stdsync.Mutex
	added     []string
	addErr    map[string]error
	events    chan FileEvent
	errs      chan error
	closed    bool
	closeOnce stdsync.Once
}

func newMockSource() *mockSource {
	return &mockSource{
		addErr: make(map[string]error),
		events: make(chan FileEvent, 16),
		errs:   make(chan error, 4),
	}
}

func (m *mockSource) AddRecursive(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.addErr[dir]; err != nil {
		return err
	}

	m.added = append(m.added, dir)

	return nil
}

func (m *mockSource) Events() <-chan FileEvent { return m.events }
func (m *mockSource) Errors() <-chan error     { return m.errs }

func (m *mockSource) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
	})

	return nil
}

func (m *mockSource) addedDirs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.added...)
}

func (m *mockSource) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// ---------------------------------------------------------------------------
// Fake transferer
// ---------------------------------------------------------------------------

type transferCall struct {
	LocalPath string
	Dest      Destination
	At        time.Time
}

// fakeTransferer records every call and returns a configurable result.
type fakeTransferer struct {
	mu     stdsync.Mutex
	calls  []transferCall
	result TransferResult
	err    error
	block  chan struct{} // when non-nil, Transfer waits until it is closed
	called chan struct{} // receives one value per call when non-nil
}

func (f *fakeTransferer) Transfer(ctx context.Context, localPath string, dst Destination) (TransferResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, transferCall{LocalPath: localPath, Dest: dst, At: time.Now()})
	block, called := f.block, f.called
	res, err := f.result, f.err
	f.mu.Unlock()

	if called != nil {
		called <- struct{}{}
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return TransferResult{ExitCode: -1}, ctx.Err()
		}
	}

	return res, err
}

func (f *fakeTransferer) getCalls() []transferCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]transferCall(nil), f.calls...)
}

// ---------------------------------------------------------------------------
// Sleep recorder
// ---------------------------------------------------------------------------

// sleepRecorder captures durations passed to sleepFunc without sleeping.
type sleepRecorder struct {
	mu    stdsync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()

	return ctx.Err()
}

func (s *sleepRecorder) getCalls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.calls...)
}
