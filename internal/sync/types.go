// Package sync implements the watch-to-dispatch pipeline: filesystem events
// are resolved to the watch root that owns them, filtered by exclusion
// patterns, held for a settle delay, and handed to a transfer backend that
// copies the file to the root's remote destination.
package sync

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// EventKind classifies a filesystem notification. The set is closed.
type EventKind int

// Event kinds delivered by a Source.
const (
	KindCreated EventKind = iota + 1
	KindModified
	KindDeleted
	KindMovedIn
	KindMovedSelf
)

func (k EventKind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindMovedIn:
		return "moved-in"
	case KindMovedSelf:
		return "moved-self"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// FileEvent is one notification of filesystem activity.
type FileEvent struct {
	Path string
	Kind EventKind
}

// WatchRoot is a local directory under observation and the remote location
// it is mirrored to. Build one with NewWatchRoot so that exclusion patterns
// are compiled once; a WatchRoot is immutable after construction.
type WatchRoot struct {
	LocalPath       string
	RemoteHost      string
	RemotePort      int
	RemoteUser      string
	RemoteBasePath  string
	ExcludePatterns []string

	excludes []*regexp.Regexp
}

// NewWatchRoot validates the exclusion patterns of def and returns a root
// with them compiled. Patterns match from the start of the tested string
// but need not consume all of it.
func NewWatchRoot(def WatchRoot) (*WatchRoot, error) {
	root := def
	root.ExcludePatterns = append([]string(nil), def.ExcludePatterns...)
	root.excludes = make([]*regexp.Regexp, 0, len(def.ExcludePatterns))

	for i, p := range def.ExcludePatterns {
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("sync: root %s: exclude[%d] %q: %w", def.LocalPath, i, p, err)
		}

		root.excludes = append(root.excludes, re)
	}

	return &root, nil
}

// Destination returns where relPath under this root is copied to. The remote
// path is the plain concatenation of the base path and relPath.
func (r *WatchRoot) Destination(relPath string) Destination {
	return Destination{
		Host: r.RemoteHost,
		Port: r.RemotePort,
		User: r.RemoteUser,
		Path: r.RemoteBasePath + relPath,
	}
}

// Destination describes one remote file location.
type Destination struct {
	Host string
	Port int
	User string
	Path string
}

// String renders the destination in scp notation, user@host:path.
func (d Destination) String() string {
	return d.User + "@" + d.Host + ":" + d.Path
}

// SyncDecision is the per-event verdict of the pipeline. It is never stored.
type SyncDecision struct {
	Root         *WatchRoot
	RelativePath string
	Excluded     bool
	Admit        bool
}

// Outcome is the observed result of one transfer attempt. Success only
// reflects a zero exit status; the remote copy is not verified.
type Outcome struct {
	Success     bool
	Detail      string
	ExitCode    int
	Destination Destination
	TransferID  string
	Duration    time.Duration
}
