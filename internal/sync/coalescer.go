package sync

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSettleDelay is how long an event waits before its file is read for
// transfer, letting editors finish unlink-and-rewrite or multi-part writes.
const DefaultSettleDelay = 500 * time.Millisecond

// CoalesceState maps each admitted path to the time it was last admitted.
// It holds one entry per distinct path, so it grows only with the set of
// files that actually change. It is owned by the controller loop and is not
// safe for concurrent use.
type CoalesceState struct {
	last map[string]time.Time
}

// NewCoalesceState returns empty bookkeeping.
func NewCoalesceState() *CoalesceState {
	return &CoalesceState{last: make(map[string]time.Time)}
}

// Record stores t as the last admission time of path.
func (s *CoalesceState) Record(path string, t time.Time) {
	s.last[path] = t
}

// LastAdmitted returns the last admission time of path.
func (s *CoalesceState) LastAdmitted(path string) (time.Time, bool) {
	t, ok := s.last[path]
	return t, ok
}

// Len returns the number of distinct paths recorded.
func (s *CoalesceState) Len() int {
	return len(s.last)
}

// EventCoalescer holds every event for the settle delay before admitting it.
// Despite the name it does not drop duplicates: two rapid events for the
// same file are both admitted, each after its own full delay.
type EventCoalescer struct {
	delay  time.Duration
	state  *CoalesceState
	logger *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
	nowFunc   func() time.Time
}

// NewEventCoalescer returns a coalescer using env's state and logger.
func NewEventCoalescer(env *Env, delay time.Duration) *EventCoalescer {
	return &EventCoalescer{
		delay:     delay,
		state:     env.State,
		logger:    env.Logger,
		sleepFunc: timeSleep,
		nowFunc:   time.Now,
	}
}

// ShouldAdmit blocks for the settle delay and then admits the event. It
// returns false only when ctx is canceled during the delay, in which case no
// transfer has started for the event.
func (c *EventCoalescer) ShouldAdmit(ctx context.Context, absPath string, now time.Time) bool {
	if prev, ok := c.state.LastAdmitted(absPath); ok {
		c.logger.Debug("path admitted before",
			slog.String("path", absPath),
			slog.Duration("since_last", now.Sub(prev)),
		)
	}

	if err := c.sleepFunc(ctx, c.delay); err != nil {
		c.logger.Debug("settle delay interrupted, event not admitted",
			slog.String("path", absPath),
			slog.String("error", err.Error()),
		)

		return false
	}

	c.state.Record(absPath, c.nowFunc())

	return true
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
