package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/insync-go/insync/internal/config"
	"github.com/insync-go/insync/internal/logging"
	"github.com/insync-go/insync/internal/sync"
)

// transportSFTP selects the in-process SFTP backend; anything else is scp.
const transportSFTP = "sftp"

// startController registers the watch roots. Tests replace it to act while
// registration is in progress.
var startController = func(ctrl *sync.WatchController) error {
	return ctrl.Start()
}

// runWatch resolves configuration, opens the log sink, registers the watch
// roots, and runs the event loop until a shutdown signal arrives. Only
// configuration and setup failures are returned; per-event problems are
// logged by the loop.
func runWatch(ctx context.Context, flags cliFlags) error {
	resolved, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{
		ConfigPath: flags.configPath,
		LogFile:    flags.logFile,
	})
	if err != nil {
		return err
	}

	sink, err := logging.New(logging.Options{
		Level:      resolved.Logging.LogLevel,
		Format:     resolved.Logging.LogFormat,
		File:       resolved.Logging.LogFile,
		MaxSizeMB:  resolved.LogMaxSizeMB,
		MaxBackups: resolved.Logging.LogMaxBackups,
		MaxAgeDays: resolved.Logging.LogMaxAgeDays,
		Verbose:    flags.verbose,
		Quiet:      flags.quiet,
	})
	if err != nil {
		return err
	}
	defer sink.Close()

	logger := sink.Logger

	// Signals are captured before the PID file exists so that a rotate-log
	// or stop request during root registration is handled, not fatal.
	ctx = shutdownContext(ctx, logger)
	hupCh, stopHangup := notifyHangup()
	defer stopHangup()

	if flags.pidFile != "" {
		cleanup, err := writePIDFile(flags.pidFile)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	ctrl, err := newController(resolved, logger)
	if err != nil {
		return err
	}

	logger.Info("insync starting",
		slog.String("version", version),
		slog.String("config", resolved.ConfigPath),
		slog.Int("roots", len(resolved.Roots)),
		slog.String("transport", resolved.Transport),
		slog.Duration("settle_delay", resolved.SettleDelay),
		slog.Duration("transfer_timeout", resolved.TransferTimeout),
	)

	if err := startController(ctrl); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The loop ending for any reason also ends the SIGHUP listener.
		defer cancel()
		return ctrl.Run(gctx)
	})

	g.Go(func() error {
		return rotateOnHangup(gctx, hupCh, sink, logger)
	})

	return g.Wait()
}

// newController wires roots, event source, and transfer backend.
func newController(resolved *config.Resolved, logger *slog.Logger) (*sync.WatchController, error) {
	roots, err := sync.RootsFromConfig(resolved.Roots)
	if err != nil {
		return nil, &config.ConfigError{Path: resolved.ConfigPath, Err: err}
	}

	transfer, err := newTransferer(resolved)
	if err != nil {
		return nil, &config.ConfigError{Path: resolved.ConfigPath, Err: err}
	}

	source, err := sync.NewSource(resolved.WatchBackend, logger)
	if err != nil {
		return nil, fmt.Errorf("opening watch backend: %w", err)
	}

	ctrl, err := sync.NewWatchController(sync.NewEnv(logger), sync.ControllerOptions{
		Roots:           roots,
		Source:          source,
		Transfer:        transfer,
		SettleDelay:     resolved.SettleDelay,
		TransferTimeout: resolved.TransferTimeout,
		FirstRootOnly:   resolved.FirstRootOnly,
	})
	if err != nil {
		source.Close()
		return nil, err
	}

	return ctrl, nil
}

func newTransferer(resolved *config.Resolved) (sync.Transferer, error) {
	if resolved.Transport == transportSFTP {
		t, err := sync.NewSFTPTransfer(resolved.KnownHosts, resolved.IdentityFiles)
		if err != nil {
			return nil, err
		}

		return t, nil
	}

	return sync.NewSCPTransfer(resolved.SCPCommand, resolved.SCPArgs), nil
}
