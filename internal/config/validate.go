package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Validation range constants.
const (
	minPort            = 1
	maxPort            = 65535
	minTransferTimeout = time.Second
	maxSettleDelay     = time.Minute
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

var validWatchBackends = map[string]bool{"auto": true, "inotify": true, "fsnotify": true}

var validTransports = map[string]bool{"scp": true, "sftp": true}

// Validate checks all configuration values and returns every error found,
// so that one run reports everything that needs fixing.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRoots(cfg.Roots)...)
	errs = append(errs, validateWatch(&cfg.WatchConfig)...)
	errs = append(errs, validateTransport(&cfg.TransportConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)

	return errors.Join(errs...)
}

func validateRoots(roots []RootConfig) []error {
	if len(roots) == 0 {
		return []error{ErrNoRoots}
	}

	var errs []error

	seen := make(map[string]bool, len(roots))

	for i := range roots {
		r := &roots[i]
		errs = append(errs, validateRoot(r)...)

		if seen[r.LocalPath] {
			errs = append(errs, fmt.Errorf("root %q: configured more than once", r.LocalPath))
		}

		seen[r.LocalPath] = true
	}

	return errs
}

func validateRoot(r *RootConfig) []error {
	var errs []error

	where := fmt.Sprintf("root %q", r.LocalPath)

	if r.LocalPath == "" {
		errs = append(errs, errors.New("root: local_path must not be empty"))
	} else if !filepath.IsAbs(r.LocalPath) {
		errs = append(errs, fmt.Errorf("%s: local path must be absolute", where))
	}

	if strings.TrimSpace(r.Host) == "" {
		errs = append(errs, fmt.Errorf("%s: host must not be empty", where))
	}

	if strings.TrimSpace(r.User) == "" {
		errs = append(errs, fmt.Errorf("%s: user must not be empty", where))
	}

	if r.Path == "" {
		errs = append(errs, fmt.Errorf("%s: path must not be empty", where))
	}

	if r.Port < minPort || r.Port > maxPort {
		errs = append(errs, fmt.Errorf("%s: port must be between %d and %d, got %d", where, minPort, maxPort, r.Port))
	}

	for j, pattern := range r.Exclude {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("%s: exclude[%d] %q: %w", where, j, pattern, err))
		}
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	d, err := time.ParseDuration(w.SettleDelay)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("settle_delay: invalid duration %q: %w", w.SettleDelay, err))
	case d < 0 || d > maxSettleDelay:
		errs = append(errs, fmt.Errorf("settle_delay: must be between 0 and %s, got %s", maxSettleDelay, d))
	}

	if !validWatchBackends[w.WatchBackend] {
		errs = append(errs, fmt.Errorf("watch_backend: must be one of auto, inotify, fsnotify; got %q", w.WatchBackend))
	}

	return errs
}

func validateTransport(t *TransportConfig) []error {
	var errs []error

	if !validTransports[t.Transport] {
		errs = append(errs, fmt.Errorf("transport: must be one of scp, sftp; got %q", t.Transport))
	}

	d, err := parseOptionalDuration(t.TransferTimeout)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("transfer_timeout: invalid duration %q: %w", t.TransferTimeout, err))
	case d != 0 && d < minTransferTimeout:
		errs = append(errs, fmt.Errorf("transfer_timeout: must be 0 (disabled) or >= %s, got %s", minTransferTimeout, d))
	}

	if t.Transport == "scp" && strings.TrimSpace(t.SCPCommand) == "" {
		errs = append(errs, errors.New("scp_command: must not be empty when transport is scp"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if _, err := parseSize(l.LogMaxSize); err != nil {
		errs = append(errs, fmt.Errorf("log_max_size: %w", err))
	}

	if l.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("log_max_backups: must be >= 0, got %d", l.LogMaxBackups))
	}

	if l.LogMaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("log_max_age_days: must be >= 0, got %d", l.LogMaxAgeDays))
	}

	return errs
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}
