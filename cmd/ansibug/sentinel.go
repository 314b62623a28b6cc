package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jborean93/ansibug/internal/broker"
)

// newSentinelCmd implements the hidden `__launch-sentinel` subcommand the
// broker's generated launch wrapper script runs from its `trap ... EXIT
// INT TERM ABRT` line (spec.md §4.4 Launch, §9 "Launch sentinel"). It is
// never invoked directly by a user; it exists purely so the wrapper script
// has a one-line, no-dependency way to signal "I exited" to the broker.
func newSentinelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "__launch-sentinel <addr>",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return broker.ConnectSentinel(context.Background(), args[0])
		},
	}
	return cmd
}
