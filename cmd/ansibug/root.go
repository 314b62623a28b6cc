// Package main implements the ansibug CLI (spec.md §6.3): the "dap",
// "listen", and "connect" subcommands, plus the hidden "__launch-sentinel"
// subcommand the broker's generated launch wrapper shells out to.
package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jborean93/ansibug/util/logutil"
)

// rootOptions holds the persistent --log-file/--log-level flags every
// subcommand shares, grounded on docker-buildx's commands/root.go
// rootOptions pattern.
type rootOptions struct {
	logFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "ansibug",
		Short:         "Debug Adapter Protocol bridge for ansible-playbook",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging(opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logFile, "log-file", "", "write diagnostic logging to this file instead of stderr")
	flags.StringVar(&opts.logLevel, "log-level", "warning", "diagnostic logging level (error, warning, info, debug)")

	cmd.AddCommand(
		newDAPCmd(),
		newListenCmd(),
		newConnectCmd(),
		newSentinelCmd(),
		newDebuggeeCmd(),
	)
	return cmd
}

// configureLogging wires logrus the way docker-buildx's root command does:
// a formatter, an output target resolved from --log-file (defaulting to the
// process's stderr so stdout stays reserved for the DAP wire stream), a
// parsed level, and the logutil filter hook suppressing noisy per-task
// trace lines at Debug.
func configureLogging(opts rootOptions) error {
	var out io.Writer = os.Stderr
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrap(err, "ansibug: open log file")
		}
		out = f
	}
	logrus.SetOutput(out)

	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return errors.Wrapf(err, "ansibug: parse --log-level %q", opts.logLevel)
	}
	logrus.SetLevel(level)

	logrus.AddHook(logutil.NewFilter(
		"process_task",
		"process_task_result",
	))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("ansibug: fatal")
		os.Exit(1)
	}
}
