package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// cliFlags holds the values of the root command's flags.
type cliFlags struct {
	configPath string
	logFile    string
	pidFile    string
	verbose    bool
	quiet      bool
}

// newRootCmd builds the root command. The tool has a single mode: watch the
// configured roots until interrupted.
func newRootCmd() *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:   "insync",
		Short: "Mirror changed files to remote hosts",
		Long: `Watch the configured local directories and copy every modified file to
its remote counterpart with scp (or SFTP) as soon as the write settles.

Runs until interrupted. Send SIGHUP (or run "insync rotate-log") to rotate
the log file.`,
		Version: version,
		Args:    cobra.NoArgs,
		// Silence Cobra's default error/usage printing; main reports errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.pidFile, "pid-file", "", "write and lock a PID file (rotate-log reads it)")

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to config file (default ./insync.yaml)")
	cmd.Flags().StringVarP(&flags.logFile, "log-file", "l", "", "path to log file (default ./insync.log)")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "log errors only")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newRotateLogCmd(&flags))

	return cmd
}
