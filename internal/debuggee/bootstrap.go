package debuggee

import (
	"context"
	"crypto/tls"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jborean93/ansibug/internal/controller"
	internaldap "github.com/jborean93/ansibug/internal/dap"
	"github.com/jborean93/ansibug/internal/discovery"
	"github.com/jborean93/ansibug/internal/launch"
	"github.com/jborean93/ansibug/internal/mpqueue"
	"github.com/jborean93/ansibug/internal/socket"
	"github.com/jborean93/ansibug/internal/strategy"
)

// Config is the debuggee bootstrap's view of the ANSIBUG_* variables
// internal/launch.buildEnviron sets for the ansible-playbook child (spec.md
// §6.5's informative list, extended by SPEC_FULL.md's fuller set).
type Config struct {
	Mode          launch.Mode
	Addr          string
	WaitForClient bool

	TLS         bool
	TLSCert     string
	TLSKey      string
	TLSKeyPass  string
	TLSClientCA string
}

// ConfigFromEnviron reads the ANSIBUG_* variables this process was
// started with. ok is false if ANSIBUG_MODE is unset, meaning this
// process is not running as a debuggee at all -- the gap the review
// named: "ANSIBUG_MODE/ANSIBUG_SOCKET_ADDR are never read by any
// process". The hidden `ansibug __debuggee` subcommand is that process.
func ConfigFromEnviron() (cfg Config, ok bool) {
	mode := os.Getenv("ANSIBUG_MODE")
	if mode == "" {
		return Config{}, false
	}

	return Config{
		Mode:          launch.Mode(mode),
		Addr:          os.Getenv("ANSIBUG_SOCKET_ADDR"),
		WaitForClient: os.Getenv("ANSIBUG_WAIT_FOR_CLIENT") == "true",
		TLS:           os.Getenv("ANSIBUG_TLS") == "true",
		TLSCert:       os.Getenv("ANSIBUG_TLS_CERT"),
		TLSKey:        os.Getenv("ANSIBUG_TLS_KEY"),
		TLSKeyPass:    os.Getenv("ANSIBUG_TLS_KEY_PASS"),
		TLSClientCA:   os.Getenv("ANSIBUG_TLS_CLIENT_CA"),
	}, true
}

// Run is the debuggee process's single I/O dispatch path (spec.md §5):
// it establishes the transport cfg names (binding and accepting for
// ModeListen, dialing out for ModeConnect), constructs a Controller and
// Dispatcher over it, registers a strategy adapter with the controller's
// StrategyBridge, and blocks until ctx is cancelled, at which point the
// controller is torn down (spec.md §4.5.4). A transport that closes first
// tears the controller down through Dispatcher.ConnectionClosed, but Run
// itself still returns only once ctx is cancelled. A cancellation that
// arrives before any adapter ever connects is a clean shutdown, not an
// error.
//
// The playbook engine itself -- task iteration, host inventory, the
// templating engine -- is the external collaborator spec.md §6.7 names
// (StrategyHost); nothing here drives it. What Run makes real is
// everything spec.md §4.3/§4.5 describe as the debuggee's own
// responsibility: the transport, the dispatcher, and the discovery
// file, written from this process's own pid once the listener is
// actually bound (ModeListen only; ModeConnect has no fixed address to
// advertise for attach-by-pid).
func Run(ctx context.Context, cfg Config) error {
	addr, err := socket.ParseAddress(cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "debuggee: parse socket address")
	}

	sender := newQueueSender()
	ctrl := controller.New(sender, nil, nil, nil)
	dispatcher := NewDispatcher(ctrl, sender)

	queue, cleanup, err := connectTransport(ctx, cfg, addr, dispatcher)
	defer cleanup()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	sender.bind(queue)

	adapter := strategy.New(ctrl)
	release, err := adapter.Start(cfg.WaitForClient)
	if err != nil {
		return errors.Wrap(err, "debuggee: register strategy with controller")
	}
	defer release()

	<-ctx.Done()
	return ctrl.Teardown()
}

// connectTransport binds/accepts (ModeListen) or dials (ModeConnect) the
// mpqueue transport, returning the live queue and a cleanup func that
// reverses whatever setup succeeded (discovery file, listener) once Run
// is done with it. cleanup is always safe to call, even on error.
func connectTransport(ctx context.Context, cfg Config, addr socket.Address, handler mpqueue.Handler) (*mpqueue.Queue, func(), error) {
	switch cfg.Mode {
	case launch.ModeListen:
		return listenTransport(ctx, cfg, addr, handler)
	case launch.ModeConnect:
		client, err := mpqueue.DialClient(ctx, addr, handler, internaldap.DefaultRegistry(), nil, 0)
		if err != nil {
			return nil, func() {}, errors.Wrap(err, "debuggee: connect to adapter")
		}
		return client.Queue, func() {}, nil
	default:
		return nil, func() {}, errors.Errorf("debuggee: unsupported ANSIBUG_MODE %q", cfg.Mode)
	}
}

// listenTransport binds addr, advertises it via the discovery file (§6.4),
// and accepts the adapter's connection, racing the accept against ctx so a
// session that never attaches can still be shut down cleanly (ServerQueue
// has no ctx-aware Accept of its own; Cancel() is its cooperative-shutdown
// hook, spec.md §4.2).
func listenTransport(ctx context.Context, cfg Config, addr socket.Address, handler mpqueue.Handler) (*mpqueue.Queue, func(), error) {
	var tlsConfig *tls.Config
	if cfg.TLS {
		var err error
		tlsConfig, err = socket.NewServerTLSOptions(socket.ServerTLSOptions{
			CertFile:     cfg.TLSCert,
			KeyFile:      cfg.TLSKey,
			KeyPassword:  cfg.TLSKeyPass,
			ClientCAFile: cfg.TLSClientCA,
		})
		if err != nil {
			return nil, func() {}, errors.Wrap(err, "debuggee: build server tls config")
		}
	}

	server, err := mpqueue.ListenServer(addr, nil)
	if err != nil {
		return nil, func() {}, errors.Wrap(err, "debuggee: bind listener")
	}
	noop := func() {}

	if err := discovery.Write(discovery.Info{Address: server.Addr(), UseTLS: cfg.TLS}); err != nil {
		server.Cancel()
		return nil, noop, errors.Wrap(err, "debuggee: write discovery file")
	}
	cleanup := func() {
		if err := discovery.Remove(); err != nil {
			logrus.WithError(err).Warn("debuggee: remove discovery file")
		}
	}

	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- server.Accept(handler, internaldap.DefaultRegistry(), tlsConfig, 0)
	}()

	select {
	case err := <-acceptErr:
		if err != nil {
			return nil, cleanup, errors.Wrap(err, "debuggee: accept adapter connection")
		}
		return server.Queue, cleanup, nil
	case <-ctx.Done():
		server.Cancel()
		<-acceptErr
		return nil, cleanup, ctx.Err()
	}
}
