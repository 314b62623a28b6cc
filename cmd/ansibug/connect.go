package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jborean93/ansibug/internal/debuggee"
	"github.com/jborean93/ansibug/internal/launch"
	"github.com/jborean93/ansibug/internal/socket"
)

// newConnectCmd implements spec.md §6.3's `ansibug connect`: the debuggee
// dials out to an adapter already listening at --addr, rather than binding
// its own socket for the adapter to attach to. internal/debuggee.Run owns
// the dial, the Controller/Dispatcher, and the StrategyBridge registration,
// run alongside the ansible-playbook child it configures via ANSIBUG_MODE=
// connect (internal/launch.buildEnviron).
func newConnectCmd() *cobra.Command {
	var (
		addr   string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "connect [-- playbook-args...]",
		Short: "Launch a debuggable ansible-playbook run that connects out to the adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := socket.ParseAddress(addr)
			if err != nil {
				return errors.Wrap(err, "ansibug connect: parse --addr")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			debuggeeErr := make(chan error, 1)
			go func() {
				debuggeeErr <- debuggee.Run(ctx, debuggee.Config{
					Mode:          launch.ModeConnect,
					Addr:          parsed.String(),
					WaitForClient: !noWait,
				})
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-stop
				cancel()
				os.Exit(130)
			}()

			code, err := launch.Playbook(launch.Options{
				Args:          args,
				Mode:          launch.ModeConnect,
				Addr:          parsed.String(),
				WaitForClient: !noWait,
			})
			cancel()
			if derr := <-debuggeeErr; derr != nil {
				logrus.WithError(derr).Warn("ansibug connect: debuggee transport")
			}
			if err != nil {
				return errors.Wrap(err, "ansibug connect: launch playbook")
			}
			os.Exit(code)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "", "address the debuggee connects to (tcp://host:port or uds://path)")
	_ = cmd.MarkFlagRequired("addr")
	flags.BoolVar(&noWait, "no-wait", false, "don't block strategy startup on the client's configurationDone")
	return cmd
}
