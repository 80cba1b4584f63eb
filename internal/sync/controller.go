package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// ErrAlreadyStarted is returned by Start on a controller that left Idle.
var ErrAlreadyStarted = errors.New("sync: watch controller already started")

// ErrNotStarted is returned by Run on a controller that is not Running.
var ErrNotStarted = errors.New("sync: watch controller not running")

// State is the lifecycle state of a WatchController.
type State int32

// Idle -> Running happens once in Start; Running -> Stopped when Run returns.
const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WatchSetupError reports a root that could not be watched. It is logged and
// the root skipped; other roots are unaffected.
type WatchSetupError struct {
	Path string
	Err  error
}

func (e *WatchSetupError) Error() string {
	return fmt.Sprintf("sync: cannot watch %s: %v", e.Path, e.Err)
}

func (e *WatchSetupError) Unwrap() error { return e.Err }

// errNotDirectory marks a configured root whose path is missing or not a directory.
var errNotDirectory = errors.New("not an existing directory")

// ControllerOptions configures a WatchController.
type ControllerOptions struct {
	// Roots in configuration order.
	Roots []*WatchRoot
	// Source delivers filesystem events; the controller closes it when Run returns.
	Source Source
	// Transfer performs remote copies.
	Transfer Transferer
	// SettleDelay is the pause before each admitted event is dispatched.
	SettleDelay time.Duration
	// TransferTimeout bounds each transfer; zero disables the bound.
	TransferTimeout time.Duration
	// FirstRootOnly keeps the historical rule that modified and moved-in
	// events act only under the first watched root. When false, any root
	// that resolves the path qualifies.
	FirstRootOnly bool
}

type eventHandler func(ctx context.Context, ev FileEvent)

// WatchController owns directory observation and routes every event through
// matcher, coalescer, and dispatcher. Events are processed one at a time on
// the goroutine that calls Run; a slow transfer delays all later events.
type WatchController struct {
	logger *slog.Logger

	roots  []*WatchRoot
	active []*WatchRoot
	source Source

	matcher    *PathMatcher
	coalescer  *EventCoalescer
	dispatcher *TransferDispatcher

	firstRootOnly bool
	handlers      map[EventKind]eventHandler
	state         atomic.Int32

	isDir   func(path string) bool
	nowFunc func() time.Time
}

// NewWatchController builds an Idle controller.
func NewWatchController(env *Env, opts ControllerOptions) (*WatchController, error) {
	if opts.Source == nil {
		return nil, errors.New("sync: watch controller requires a source")
	}

	if opts.Transfer == nil {
		return nil, errors.New("sync: watch controller requires a transferer")
	}

	c := &WatchController{
		logger:        env.Logger,
		roots:         append([]*WatchRoot(nil), opts.Roots...),
		source:        opts.Source,
		matcher:       NewPathMatcher(opts.Roots),
		coalescer:     NewEventCoalescer(env, opts.SettleDelay),
		dispatcher:    NewTransferDispatcher(env, opts.Transfer, opts.TransferTimeout),
		firstRootOnly: opts.FirstRootOnly,
		isDir:         isExistingDir,
		nowFunc:       time.Now,
	}

	c.handlers = map[EventKind]eventHandler{
		KindCreated:   c.logOnly,
		KindDeleted:   c.logOnly,
		KindMovedSelf: c.logOnly,
		KindModified:  c.syncContent,
		KindMovedIn:   c.syncContent,
	}

	return c, nil
}

// State returns the current lifecycle state.
func (c *WatchController) State() State {
	return State(c.state.Load())
}

// ActiveRoots returns the roots that were successfully watched, in
// configuration order.
func (c *WatchController) ActiveRoots() []*WatchRoot {
	return append([]*WatchRoot(nil), c.active...)
}

// Start registers a recursive watch for every configured root that exists as
// a directory and moves the controller to Running. Roots that are missing or
// cannot be watched are logged and skipped; they are not retried later.
func (c *WatchController) Start() error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	for _, root := range c.roots {
		if err := c.register(root); err != nil {
			c.logger.Warn("root skipped",
				slog.String("path", root.LocalPath),
				slog.String("error", err.Error()),
			)

			continue
		}

		c.active = append(c.active, root)
		c.logger.Info("watching root",
			slog.String("path", root.LocalPath),
			slog.String("remote", root.Destination("").String()),
			slog.Int("excludes", len(root.ExcludePatterns)),
		)
	}

	if len(c.active) == 0 {
		c.logger.Warn("no configured root could be watched")
	}

	return nil
}

func (c *WatchController) register(root *WatchRoot) error {
	if !c.isDir(root.LocalPath) {
		return &WatchSetupError{Path: root.LocalPath, Err: errNotDirectory}
	}

	if err := c.source.AddRecursive(root.LocalPath); err != nil {
		return &WatchSetupError{Path: root.LocalPath, Err: err}
	}

	return nil
}

// Run processes events until ctx is canceled or the source closes, then
// closes the source and moves to Stopped. An event already being processed
// when ctx is canceled runs to completion first.
func (c *WatchController) Run(ctx context.Context) error {
	if c.State() != StateRunning {
		return ErrNotStarted
	}

	defer func() {
		if err := c.source.Close(); err != nil {
			c.logger.Warn("closing event source", slog.String("error", err.Error()))
		}

		c.state.Store(int32(StateStopped))
		c.logger.Info("watch loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-c.source.Events():
			if !ok {
				return nil
			}

			c.HandleEvent(ctx, ev)

		case err, ok := <-c.source.Errors():
			if !ok {
				return nil
			}

			c.handleSourceError(err)
		}
	}
}

func (c *WatchController) handleSourceError(err error) {
	if errors.Is(err, ErrNotificationOverflow) {
		c.logger.Error("filesystem notifications lost", slog.String("error", err.Error()))
		return
	}

	c.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))
}

// HandleEvent routes one event by kind. It is exported for callers that feed
// events without a Source.
func (c *WatchController) HandleEvent(ctx context.Context, ev FileEvent) {
	h, ok := c.handlers[ev.Kind]
	if !ok {
		c.logger.Debug("ignoring event of unknown kind",
			slog.String("path", ev.Path), slog.String("kind", ev.Kind.String()))

		return
	}

	h(ctx, ev)
}

// logOnly records events that never cause a transfer: a bare create, delete,
// or rename of a watched directory does not carry finished content.
func (c *WatchController) logOnly(_ context.Context, ev FileEvent) {
	c.logger.Debug("event received",
		slog.String("path", ev.Path), slog.String("kind", ev.Kind.String()))
}

// syncContent runs a modified or moved-in event through the pipeline.
func (c *WatchController) syncContent(ctx context.Context, ev FileEvent) {
	c.logger.Debug("event received",
		slog.String("path", ev.Path), slog.String("kind", ev.Kind.String()))

	if !c.inScope(ev.Path) {
		c.logger.Debug("ignoring event outside first root", slog.String("path", ev.Path))
		return
	}

	decision := c.matcher.Decide(ev.Path)
	if decision.Root == nil {
		c.logger.Debug("ignoring event outside every root", slog.String("path", ev.Path))
		return
	}

	if decision.Excluded {
		c.logger.Debug("path excluded",
			slog.String("path", ev.Path), slog.String("root", decision.Root.LocalPath))

		return
	}

	decision.Admit = c.coalescer.ShouldAdmit(ctx, ev.Path, c.nowFunc())
	if !decision.Admit {
		return
	}

	out := c.dispatcher.Dispatch(ctx, decision.Root, ev.Path)
	c.logOutcome(ev, decision, out)
}

// inScope applies the first-root restriction. With FirstRootOnly the first
// watched root, not the root that resolves the path, decides.
func (c *WatchController) inScope(path string) bool {
	if !c.firstRootOnly {
		return true
	}

	if len(c.active) == 0 {
		return false
	}

	return strings.HasPrefix(path, c.active[0].LocalPath)
}

func (c *WatchController) logOutcome(ev FileEvent, d SyncDecision, out Outcome) {
	attrs := []any{
		slog.String("path", ev.Path),
		slog.String("kind", ev.Kind.String()),
		slog.String("relative", d.RelativePath),
		slog.String("remote", out.Destination.String()),
		slog.String("transfer_id", out.TransferID),
		slog.Duration("duration", out.Duration),
	}

	if out.Success {
		c.logger.Info("file synced", attrs...)
		return
	}

	attrs = append(attrs, slog.Int("exit", out.ExitCode), slog.String("detail", out.Detail))
	c.logger.Error("transfer failed", attrs...)
}

func isExistingDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
