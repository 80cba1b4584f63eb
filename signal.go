package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The watch loop finishes the event it is
// processing (including a running transfer) after the first signal; a second
// signal abandons it.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping after current event",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		// A second signal forces exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// logRotator is the part of the log sink that SIGHUP drives.
type logRotator interface {
	Rotate() error
}

// notifyHangup starts capturing SIGHUP. It must run before anything can learn
// the process PID, since an uncaptured SIGHUP terminates the process.
func notifyHangup() (<-chan os.Signal, func()) {
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	return hupCh, func() { signal.Stop(hupCh) }
}

// rotateOnHangup rotates the log file on every SIGHUP received on hupCh until
// ctx is done. Configuration is not reloaded: watch roots are fixed for the
// process lifetime.
func rotateOnHangup(ctx context.Context, hupCh <-chan os.Signal, sink logRotator, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hupCh:
			if err := sink.Rotate(); err != nil {
				logger.Warn("log rotation failed", slog.String("error", err.Error()))
				continue
			}

			logger.Info("log file rotated")
		}
	}
}
