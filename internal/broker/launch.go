package broker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	internaldap "github.com/jborean93/ansibug/internal/dap"
	"github.com/jborean93/ansibug/internal/mpqueue"
	"github.com/jborean93/ansibug/internal/socket"
)

const defaultConnectTimeout = 30 * time.Second

// handleLaunch implements spec.md §4.4's Launch operation: bind a UDS
// server for the debuggee to connect back to, bind a second UDS as the
// launch-cancel sentinel, write a temporary shell wrapper, ask the client
// to run it via RunInTerminalRequest, then race the debuggee's connect
// against the sentinel being hit.
func (b *Broker) handleLaunch(req *dap.LaunchRequest) error {
	b.setState(StateLaunching)
	clientSeq := internaldap.SeqOf(req)

	var args LaunchArguments
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return b.sendClientError(clientSeq, "launch", errors.Wrapf(ErrConfig, "parse launch arguments: %s", err).Error())
		}
	}

	debuggeeAddr, err := socket.ParseAddress("uds://")
	if err != nil {
		return b.sendClientError(clientSeq, "launch", err.Error())
	}
	debuggeeQueue, err := mpqueue.ListenServer(debuggeeAddr, nil)
	if err != nil {
		return b.sendClientError(clientSeq, "launch", errors.Wrap(err, "broker: bind debuggee listener").Error())
	}

	sentinelAddr, err := socket.ParseAddress("uds://")
	if err != nil {
		return b.sendClientError(clientSeq, "launch", err.Error())
	}
	sentinelToken := socket.NewCancellationToken()
	sentinelListener, err := socket.Listen(sentinelAddr, sentinelToken)
	if err != nil {
		return b.sendClientError(clientSeq, "launch", errors.Wrap(err, "broker: bind launch sentinel").Error())
	}

	wrapperPath, err := writeLaunchWrapper(debuggeeAddr.Path, sentinelAddr.Path, args)
	if err != nil {
		return b.sendClientError(clientSeq, "launch", errors.Wrap(err, "broker: write launch wrapper").Error())
	}

	runInTermReq := &dap.RunInTerminalRequest{
		Request: dap.Request{Command: "runInTerminal"},
		Arguments: dap.RunInTerminalRequestArguments{
			Kind: "integrated",
			Args: append([]string{wrapperPath}, args.PlaybookArgs...),
		},
	}
	respCh := make(chan *dap.RunInTerminalResponse, 1)
	if err := b.client.SendMsg(runInTermReq); err != nil {
		return err
	}
	b.registerRunInTerminal(internaldap.SeqOf(runInTermReq), respCh)

	connectTimeout := defaultConnectTimeout
	if args.ConnectTimeoutSeconds > 0 {
		connectTimeout = time.Duration(args.ConnectTimeoutSeconds) * time.Second
	}

	var tlsConfig *tls.Config
	if args.WrapTLS {
		tlsConfig, err = socket.NewServerTLSOptions(socket.ServerTLSOptions{
			CertFile:     args.TLSCert,
			KeyFile:      args.TLSKey,
			KeyPassword:  args.TLSKeyPass,
			ClientCAFile: args.TLSClientCA,
		})
		if err != nil {
			return b.sendClientError(clientSeq, "launch", err.Error())
		}
	}

	accepted := make(chan error, 1)
	go func() { accepted <- debuggeeQueue.Accept(b, internaldap.DefaultRegistry(), tlsConfig, connectTimeout) }()

	sentinelHit := make(chan struct{}, 1)
	go func() {
		if _, err := sentinelListener.Accept(connectTimeout); err == nil {
			sentinelHit <- struct{}{}
		}
	}()

	select {
	case <-respCh:
		// RunInTerminalResponse arrived; keep waiting for the debuggee
		// connect or the sentinel, whichever fires first.
	case <-time.After(connectTimeout):
		debuggeeQueue.Cancel()
		sentinelListener.Close()
		return b.sendClientError(clientSeq, "launch", ErrTimeout.Error())
	}

	select {
	case err := <-accepted:
		sentinelListener.Close()
		if err != nil {
			return b.sendClientError(clientSeq, "launch", errors.Wrap(err, "broker: accept debuggee connection").Error())
		}

		b.mu.Lock()
		b.debuggee = debuggeeQueue.Queue
		b.mu.Unlock()

		resp := &dap.LaunchResponse{Response: dap.Response{Command: "launch", Success: true}}
		internaldap.StampRequestSeq(resp, clientSeq)
		if err := b.client.SendMsg(resp); err != nil {
			return err
		}
		return b.emitPathMappingEvent(toMappings(args.PathMappings))

	case <-sentinelHit:
		debuggeeQueue.Cancel()
		err := b.sendClientError(clientSeq, "launch", "broker: launched playbook exited before connecting back")
		b.emitTerminated()
		return err

	case <-time.After(connectTimeout):
		debuggeeQueue.Cancel()
		sentinelListener.Close()
		return b.sendClientError(clientSeq, "launch", ErrTimeout.Error())
	}
}

func (b *Broker) registerRunInTerminal(requestSeq int, ch chan *dap.RunInTerminalResponse) {
	b.runInTermMu.Lock()
	b.runInTermSub[requestSeq] = ch
	b.runInTermMu.Unlock()
}

func (b *Broker) deliverRunInTerminalResponse(resp *dap.RunInTerminalResponse) {
	requestSeq, _ := internaldap.RequestSeqOf(resp)

	b.runInTermMu.Lock()
	ch, ok := b.runInTermSub[requestSeq]
	if ok {
		delete(b.runInTermSub, requestSeq)
	}
	b.runInTermMu.Unlock()

	if ok {
		ch <- resp
	}
}

// writeLaunchWrapper writes a temporary executable shell script implementing
// spec.md §4.4's Launch wrapper contract: (a) removes itself, (b) traps
// process exit to connect to the sentinel so the broker can detect an
// early launch failure without waiting out the full connect timeout, (c)
// runs the debuggee-enabling playbook command as a child of the shell, so
// the trap is still in place when it exits. POSIX shell cannot trap
// SIGKILL; EXIT/INT/TERM/ABRT cover the cases original_source's signal
// handlers do that are actually interceptable from a shell.
func writeLaunchWrapper(debuggeeAddr, sentinelAddr string, args LaunchArguments) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(err, "broker: resolve own executable")
	}

	name := filepath.Join(os.TempDir(), "ansibug-launch-"+uuid.NewString()+".sh")
	script := fmt.Sprintf(`#!/bin/sh
rm -f "$0"
trap '"%s" __launch-sentinel "uds://%s"' EXIT INT TERM ABRT
export ANSIBUG_MODE=connect
export ANSIBUG_SOCKET_ADDR="uds://%s"
export ANSIBUG_WAIT_FOR_CLIENT=%t
export ANSIBLE_STRATEGY=ansibug_strategy
ansible-playbook "$@"
`, exe, sentinelAddr, debuggeeAddr, args.WaitForClient)

	if err := os.WriteFile(name, []byte(script), 0o700); err != nil {
		return "", errors.Wrap(err, "broker: write wrapper script")
	}
	return name, nil
}

// ConnectSentinel dials addr and exits immediately, the behavior bound to
// the hidden `__launch-sentinel` CLI subcommand the wrapper script's exit
// trap invokes (cmd/ansibug). It is exported here so that subcommand can
// be a one-line call without duplicating the dial logic.
func ConnectSentinel(ctx context.Context, addr string) error {
	parsed, err := socket.ParseAddress(addr)
	if err != nil {
		return err
	}
	handle, err := socket.Dial(ctx, parsed, nil, 2*time.Second)
	if err != nil {
		return err
	}
	return handle.Close()
}
