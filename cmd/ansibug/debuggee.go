package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jborean93/ansibug/internal/debuggee"
)

// newDebuggeeCmd implements the hidden `__debuggee` subcommand: the
// runnable debuggee entrypoint that reads the ANSIBUG_* variables
// internal/launch.buildEnviron sets back out of its own environment and
// runs the transport/Controller/Dispatcher internal/debuggee.Run
// describes. `listen`/`connect` already run this same logic in-process
// for their own launches; this subcommand exists so the debuggee side
// can also be started on its own (e.g. by a test harness, or a future
// ansible-playbook integration that execs it directly) without going
// through either of them.
func newDebuggeeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "__debuggee",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ok := debuggee.ConfigFromEnviron()
			if !ok {
				return errors.New("ansibug __debuggee: ANSIBUG_MODE not set")
			}
			return debuggee.Run(context.Background(), cfg)
		},
	}
	return cmd
}
