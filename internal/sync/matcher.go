package sync

import (
	"fmt"
	"strings"

	"github.com/insync-go/insync/internal/config"
)

// PathMatcher resolves absolute paths to the watch root that owns them and
// applies the root's exclusion patterns. Roots are consulted in the order
// they were configured; the first root whose local path is a string prefix
// of the event path wins, even when a later root is more specific.
type PathMatcher struct {
	roots []*WatchRoot
}

// NewPathMatcher returns a matcher over roots in the given order.
func NewPathMatcher(roots []*WatchRoot) *PathMatcher {
	return &PathMatcher{roots: append([]*WatchRoot(nil), roots...)}
}

// Resolve returns the first configured root whose LocalPath prefixes
// absPath, or false when no root does.
func (m *PathMatcher) Resolve(absPath string) (*WatchRoot, bool) {
	for _, r := range m.roots {
		if strings.HasPrefix(absPath, r.LocalPath) {
			return r, true
		}
	}

	return nil, false
}

// IsExcluded reports whether any of root's patterns matches absPath from its
// first character. The full path is tested, not just the base name.
func (m *PathMatcher) IsExcluded(root *WatchRoot, absPath string) bool {
	for _, re := range root.excludes {
		if re.MatchString(absPath) {
			return true
		}
	}

	return false
}

// Decide resolves and filters absPath. Admit is left false; only the
// coalescer grants admission.
func (m *PathMatcher) Decide(absPath string) SyncDecision {
	root, ok := m.Resolve(absPath)
	if !ok {
		return SyncDecision{}
	}

	rel, _ := RelativePath(root, absPath)

	return SyncDecision{
		Root:         root,
		RelativePath: rel,
		Excluded:     m.IsExcluded(root, absPath),
	}
}

// RelativePath strips root.LocalPath from the front of absPath. The remainder
// keeps its leading separator, if any, so that RemoteBasePath+rel rebuilds
// the destination exactly.
func RelativePath(root *WatchRoot, absPath string) (string, bool) {
	if !strings.HasPrefix(absPath, root.LocalPath) {
		return "", false
	}

	return absPath[len(root.LocalPath):], true
}

// RootsFromConfig converts configured roots into compiled WatchRoots, keeping
// their order.
func RootsFromConfig(cfgs []config.RootConfig) ([]*WatchRoot, error) {
	roots := make([]*WatchRoot, 0, len(cfgs))

	for i := range cfgs {
		c := &cfgs[i]

		root, err := NewWatchRoot(WatchRoot{
			LocalPath:       c.LocalPath,
			RemoteHost:      c.Host,
			RemotePort:      c.Port,
			RemoteUser:      c.User,
			RemoteBasePath:  c.Path,
			ExcludePatterns: c.Exclude,
		})
		if err != nil {
			return nil, fmt.Errorf("sync: building watch roots: %w", err)
		}

		roots = append(roots, root)
	}

	return roots, nil
}
