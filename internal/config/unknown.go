package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// rootTableKey is the TOML array-of-tables name holding watch roots.
const rootTableKey = "root"

// knownGlobalKeys are the valid flat top-level keys in the config file.
var knownGlobalKeys = map[string]bool{
	// Watch settings
	"settle_delay": true, "watch_backend": true, "first_root_only": true,
	// Transport settings
	"transport": true, "transfer_timeout": true, "scp_command": true, "scp_args": true,
	"known_hosts": true, "identity_files": true,
	// Logging settings
	"log_level": true, "log_file": true, "log_format": true, "log_max_size": true,
	"log_max_backups": true, "log_max_age_days": true,
}

// knownRootKeys are the valid keys inside one root entry. local_path only
// exists in TOML; YAML carries it as the mapping key.
var knownRootKeys = map[string]bool{
	"local_path": true, "host": true, "port": true, "user": true, "path": true, "exclude": true,
}

var (
	knownGlobalKeysList = sortedKeys(knownGlobalKeys)
	knownRootKeysList   = sortedKeys(knownRootKeys)
)

// sortedKeys returns the keys of m in sorted order, so that two candidates
// with the same edit distance always yield the same suggestion.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		if len(key) >= 2 && key[0] == rootTableKey {
			errs = append(errs, unknownKeyError(key[len(key)-1], "root entry", knownRootKeysList))

			continue
		}

		errs = append(errs, unknownKeyError(key[0], "", knownGlobalKeysList))
	}

	return errors.Join(errs...)
}

// unknownKeyError builds a descriptive error for an unrecognized key,
// suggesting the closest known key when one is near enough.
func unknownKeyError(key, where string, known []string) error {
	msg := fmt.Sprintf("unknown config key %q", key)
	if where != "" {
		msg += " in " + where
	}

	if suggestion := closestMatch(key, known); suggestion != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, suggestion)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using two rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
