package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/jborean93/ansibug/internal/broker"
	internaldap "github.com/jborean93/ansibug/internal/dap"
)

// newDAPCmd implements spec.md §6.3's `ansibug dap`: run the broker over
// stdin/stdout as an IDE's debug adapter process.
func newDAPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dap",
		Short: "Run the debug adapter over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := internaldap.NewConn(os.Stdin, os.Stdout, internaldap.DefaultRegistry())
			b := broker.New(conn)
			defer b.Stop()
			return b.Run(context.Background())
		},
	}
}
