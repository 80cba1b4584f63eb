package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultTransferTimeout bounds a single transfer attempt.
const DefaultTransferTimeout = 10 * time.Minute

// maxDetailLen caps the transfer output kept in an Outcome.
const maxDetailLen = 4096

// Transferer copies one local file to a remote destination. A non-zero
// ExitCode with a nil error is a completed attempt that failed remotely; a
// non-nil error means the attempt could not be carried out.
type Transferer interface {
	Transfer(ctx context.Context, localPath string, dst Destination) (TransferResult, error)
}

// TransferResult is what a Transferer observed: the exit status and the
// combined output of the copy.
type TransferResult struct {
	ExitCode int
	Output   string
}

// TransferDispatcher turns an admitted path into exactly one transfer attempt.
// Dispatch blocks the caller for the duration of the transfer.
type TransferDispatcher struct {
	transfer Transferer
	timeout  time.Duration
	logger   *slog.Logger

	newID   func() string
	nowFunc func() time.Time
}

// NewTransferDispatcher returns a dispatcher that bounds each attempt by
// timeout. A zero timeout disables the bound.
func NewTransferDispatcher(env *Env, t Transferer, timeout time.Duration) *TransferDispatcher {
	return &TransferDispatcher{
		transfer: t,
		timeout:  timeout,
		logger:   env.Logger,
		newID:    uuid.NewString,
		nowFunc:  time.Now,
	}
}

// Dispatch copies absPath to its destination under root. There is no retry:
// the Outcome reports the single attempt. Cancelling ctx does not abort a
// transfer that has started; only the timeout does.
func (d *TransferDispatcher) Dispatch(ctx context.Context, root *WatchRoot, absPath string) Outcome {
	rel, ok := RelativePath(root, absPath)
	if !ok {
		return Outcome{
			Detail:   fmt.Sprintf("path %s is not under root %s", absPath, root.LocalPath),
			ExitCode: -1,
		}
	}

	out := Outcome{
		Destination: root.Destination(rel),
		TransferID:  d.newID(),
	}

	tctx := context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(tctx, d.timeout)
		defer cancel()
	}

	start := d.nowFunc()
	res, err := d.transfer.Transfer(tctx, absPath, out.Destination)
	out.Duration = d.nowFunc().Sub(start)
	out.ExitCode = res.ExitCode

	output := truncateDetail(strings.TrimSpace(res.Output))

	switch {
	case err == nil && res.ExitCode == 0:
		out.Success = true
		out.Detail = output
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		out.Detail = withOutput(fmt.Sprintf("transfer timed out after %s", d.timeout), output)
	case err != nil:
		out.Detail = withOutput(err.Error(), output)
	default:
		out.Detail = withOutput(fmt.Sprintf("exit status %d", res.ExitCode), output)
	}

	d.logger.Debug("transfer attempted",
		slog.String("transfer_id", out.TransferID),
		slog.String("local", absPath),
		slog.String("remote", out.Destination.String()),
		slog.Int("port", out.Destination.Port),
		slog.Int("exit", out.ExitCode),
		slog.Duration("duration", out.Duration),
	)

	return out
}

// withOutput appends transfer output to a failure summary unless it adds
// nothing.
func withOutput(summary, output string) string {
	if output == "" || output == summary {
		return summary
	}

	return summary + ": " + output
}

// truncateDetail caps s at maxDetailLen bytes without splitting a rune.
func truncateDetail(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}

	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + "..."
}
