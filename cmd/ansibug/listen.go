package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jborean93/ansibug/internal/debuggee"
	"github.com/jborean93/ansibug/internal/launch"
	"github.com/jborean93/ansibug/internal/socket"
)

// tlsOptions is the set of TLS flags shared by `listen` (the only
// subcommand that can wrap its debuggee socket in TLS, since `connect`
// dials out to an adapter that already decided its own TLS posture).
type tlsOptions struct {
	wrapTLS  bool
	cert     string
	key      string
	keyPass  string
	clientCA string
}

func (o tlsOptions) keyPassword() string {
	if o.keyPass != "" {
		return o.keyPass
	}
	return os.Getenv("ANSIBUG_TLS_KEY_PASS")
}

func addTLSFlags(flags *pflag.FlagSet, o *tlsOptions) {
	flags.BoolVar(&o.wrapTLS, "wrap-tls", false, "wrap the debuggee listener in TLS")
	flags.StringVar(&o.cert, "tls-cert", "", "TLS certificate file")
	flags.StringVar(&o.key, "tls-key", "", "TLS private key file")
	flags.StringVar(&o.keyPass, "tls-key-pass", "", "password for an encrypted TLS private key (falls back to ANSIBUG_TLS_KEY_PASS)")
	flags.StringVar(&o.clientCA, "tls-client-ca", "", "CA bundle used to verify client certificates")
}

// newListenCmd implements spec.md §6.3's `ansibug listen`: bind the
// debuggee's own transport and run its Controller/Dispatcher (internal/
// debuggee.Run) alongside an ansible-playbook run launched in listen mode,
// so the discovery file (§6.4) an IDE attaches by pid to actually names a
// bound, accepting socket in this same process (SPEC_FULL.md PART E.3).
func newListenCmd() *cobra.Command {
	var (
		addr    string
		noWait  bool
		tlsOpts tlsOptions
	)

	cmd := &cobra.Command{
		Use:   "listen [-- playbook-args...]",
		Short: "Launch a debuggable ansible-playbook run that listens for the adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := socket.ParseAddress(addrOrAuto(addr))
			if err != nil {
				return errors.Wrap(err, "ansibug listen: parse --addr")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			debuggeeErr := make(chan error, 1)
			go func() {
				debuggeeErr <- debuggee.Run(ctx, debuggee.Config{
					Mode:          launch.ModeListen,
					Addr:          parsed.String(),
					WaitForClient: !noWait,
					TLS:           tlsOpts.wrapTLS,
					TLSCert:       tlsOpts.cert,
					TLSKey:        tlsOpts.key,
					TLSKeyPass:    tlsOpts.keyPassword(),
					TLSClientCA:   tlsOpts.clientCA,
				})
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-stop
				cancel()
				// Wait for debuggee.Run to remove the discovery file.
				<-debuggeeErr
				os.Exit(130)
			}()

			code, err := launch.Playbook(launch.Options{
				Args:          args,
				Mode:          launch.ModeListen,
				Addr:          parsed.String(),
				WaitForClient: !noWait,
				WrapTLS:       tlsOpts.wrapTLS,
				TLSCert:       tlsOpts.cert,
				TLSKey:        tlsOpts.key,
				TLSKeyPass:    tlsOpts.keyPassword(),
				TLSClientCA:   tlsOpts.clientCA,
			})
			cancel()
			if derr := <-debuggeeErr; derr != nil {
				logrus.WithError(derr).Warn("ansibug listen: debuggee transport")
			}
			if err != nil {
				return errors.Wrap(err, "ansibug listen: launch playbook")
			}
			os.Exit(code)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "", "address to listen on (tcp://host:port, uds://path, or uds:// for an auto-generated path)")
	flags.BoolVar(&noWait, "no-wait", false, "don't block strategy startup on the client's configurationDone")
	addTLSFlags(flags, &tlsOpts)
	return cmd
}

func addrOrAuto(addr string) string {
	if addr == "" {
		return "uds://"
	}
	return addr
}
