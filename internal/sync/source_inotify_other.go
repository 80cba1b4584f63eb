//go:build !linux

package sync

import (
	"fmt"
	"log/slog"
)

func newInotifySource(_ *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, BackendInotify)
}
