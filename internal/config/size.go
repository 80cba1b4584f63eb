package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// megabyte is the SI unit the log rotator counts in.
const megabyte = 1000 * 1000

// parseSize converts a human-readable size ("100MB", "1GiB", "512") to bytes.
// Empty string and "0" return 0.
func parseSize(s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}

	if strings.HasPrefix(strings.TrimSpace(s), "-") {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q: too large", s)
	}

	return int64(n), nil
}
