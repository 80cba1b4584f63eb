// Package logging builds the process-wide event log: a leveled slog.Logger
// writing to a rotating log file and to stdout.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log output formats.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

const (
	logFilePermissions = 0o644
	logDirPermissions  = 0o755
)

// Options describes the sink. Verbose and Quiet come from CLI flags and
// override Level.
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	Verbose bool
	Quiet   bool

	// Stdout receives a copy of every record; nil means os.Stdout.
	Stdout io.Writer
}

// Sink owns the logger and the rotating file behind it.
type Sink struct {
	Logger *slog.Logger
	file   *lumberjack.Logger
}

// New opens the log file (creating its directory) and returns the sink. The
// file is opened once up front so an unwritable path fails at startup rather
// than silently dropping records later.
func New(opts Options) (*Sink, error) {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	s := &Sink{}
	w := stdout

	if opts.File != "" {
		if err := probeFile(opts.File); err != nil {
			return nil, err
		}

		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		w = io.MultiWriter(s.file, stdout)
	}

	handlerOpts := &slog.HandlerOptions{Level: Level(opts.Level, opts.Verbose, opts.Quiet)}

	var h slog.Handler
	if resolveFormat(opts.Format, stdout) == FormatJSON {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}

	s.Logger = slog.New(h).With(slog.Int("pid", os.Getpid()))

	return s, nil
}

// Level maps a config level name to slog, with CLI flags taking priority:
// verbose forces debug, quiet forces error.
func Level(name string, verbose, quiet bool) slog.Level {
	level := slog.LevelInfo

	switch name {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if verbose {
		level = slog.LevelDebug
	}

	if quiet {
		level = slog.LevelError
	}

	return level
}

// resolveFormat turns "auto" into text for terminals and json otherwise.
func resolveFormat(format string, stdout io.Writer) string {
	if format != FormatAuto && format != "" {
		return format
	}

	if f, ok := stdout.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return FormatText
	}

	return FormatJSON
}

func probeFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), logDirPermissions); err != nil {
		return fmt.Errorf("logging: creating log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		return fmt.Errorf("logging: opening log file: %w", err)
	}

	return f.Close()
}

// Rotate closes the current log file, renames it with a timestamp, and
// starts a new one. It is a no-op without a log file.
func (s *Sink) Rotate() error {
	if s.file == nil {
		return nil
	}

	if err := s.file.Rotate(); err != nil {
		return fmt.Errorf("logging: rotating log file: %w", err)
	}

	return nil
}

// Close flushes and closes the log file.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}

	return s.file.Close()
}
