package main

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

func newRotateLogCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-log",
		Short: "Ask a running insync to rotate its log file",
		Long: `Send SIGHUP to the insync process recorded in --pid-file. The watcher
closes its log file, renames it with a timestamp, and starts a new one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.pidFile == "" {
				return errors.New("rotate-log needs --pid-file naming the watcher's PID file")
			}

			pid, err := signalWatcher(flags.pidFile, syscall.SIGHUP)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGHUP to insync (PID %d)\n", pid)

			return nil
		},
	}
}
