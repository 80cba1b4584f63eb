package sync

import "log/slog"

// Env carries the per-process collaborators shared by the pipeline
// components: the event log sink and the coalescer bookkeeping. One Env is
// built at startup and passed to each component at construction.
type Env struct {
	Logger *slog.Logger
	State  *CoalesceState
}

// NewEnv returns an Env with empty coalescer state.
func NewEnv(logger *slog.Logger) *Env {
	return &Env{
		Logger: logger,
		State:  NewCoalesceState(),
	}
}
