package broker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	internaldap "github.com/jborean93/ansibug/internal/dap"
	"github.com/jborean93/ansibug/internal/discovery"
	"github.com/jborean93/ansibug/internal/mpqueue"
	"github.com/jborean93/ansibug/internal/socket"
)

// pendingRequest correlates a request forwarded to the debuggee (keyed by
// the seq the debuggee-bound queue stamped on it) back to the client's own
// request_seq and command, spec.md §4.4's "two-key correlation table".
type pendingRequest struct {
	clientRequestSeq int
	command          string
}

// Broker is the single-threaded three-endpoint dispatcher of spec.md §4.4:
// client stdio <-> adapter <-> debuggee socket. Grounded on the teacher's
// dap/adapter.go Adapter[C] (handler-map dispatch, channel-gated
// initialized/started/configuration phases), re-expressed as a pure
// forwarder with no debuggee-side business logic of its own — that lives
// in the separately-running internal/controller.
type Broker struct {
	client internaldap.Conn

	mu       sync.Mutex
	state    State
	debuggee *mpqueue.Queue
	pending  map[int]pendingRequest

	runInTermMu  sync.Mutex
	runInTermSub map[int]chan *dap.RunInTerminalResponse

	terminatedOnce sync.Once
	terminated     chan struct{}
}

// New constructs a Broker speaking DAP with the client over clientConn
// (typically stdin/stdout).
func New(clientConn internaldap.Conn) *Broker {
	return &Broker{
		client:       clientConn,
		state:        StateInit,
		pending:      make(map[int]pendingRequest),
		runInTermSub: make(map[int]chan *dap.RunInTerminalResponse),
		terminated:   make(chan struct{}),
	}
}

// Run drives the dispatch loop until the client connection closes or the
// session reaches StateTerminated.
func (b *Broker) Run(ctx context.Context) error {
	for {
		msg, err := b.client.RecvMsg(ctx)
		if err != nil {
			b.fail(errors.Wrap(err, "broker: client read"))
			return err
		}

		b.dispatchClientMessage(msg)

		select {
		case <-b.terminated:
			return nil
		default:
		}
	}
}

func (b *Broker) dispatchClientMessage(msg dap.Message) {
	if resp, ok := msg.(*dap.RunInTerminalResponse); ok {
		b.deliverRunInTerminalResponse(resp)
		return
	}

	req, ok := msg.(dap.RequestMessage)
	if !ok {
		return
	}

	command, _ := internaldap.CommandOf(req)
	var err error
	switch command {
	case "initialize":
		err = b.handleInitialize(req.(*dap.InitializeRequest))
	case "attach":
		err = b.handleAttach(req.(*dap.AttachRequest))
	case "launch":
		err = b.handleLaunch(req.(*dap.LaunchRequest))
	case "disconnect":
		err = b.handleDisconnect(req.(*dap.DisconnectRequest))
	case "terminate":
		err = b.handleTerminate(req.(*dap.TerminateRequest))
	default:
		err = b.forward(req, command)
	}
	if err != nil {
		logrus.WithError(err).WithField("command", command).Error("broker: handle client request")
	}
}

// forward implements spec.md §4.4's "any request the broker does not
// consume locally is forwarded to the debuggee verbatim; its response is
// matched by request_seq and forwarded back."
func (b *Broker) forward(req dap.RequestMessage, command string) error {
	b.mu.Lock()
	q := b.debuggee
	b.mu.Unlock()

	clientSeq := internaldap.SeqOf(req)
	if q == nil {
		return b.sendClientError(clientSeq, command, "broker: no debuggee connection")
	}

	if err := q.Send(req); err != nil {
		return b.sendClientError(clientSeq, command, errors.Wrap(err, "broker: forward to debuggee").Error())
	}
	debuggeeSeq := internaldap.SeqOf(req)

	b.mu.Lock()
	b.pending[debuggeeSeq] = pendingRequest{clientRequestSeq: clientSeq, command: command}
	b.mu.Unlock()
	return nil
}

func (b *Broker) sendClientError(requestSeq int, command, message string) error {
	return b.client.SendMsg(internaldap.NewErrorResponse(requestSeq, command, message))
}

// OnMsgReceived implements mpqueue.Handler for the debuggee queue:
// responses are matched against the pending table and forwarded to the
// client under the original client request_seq; events are relayed as-is.
func (b *Broker) OnMsgReceived(msg dap.Message) {
	if requestSeq, ok := internaldap.RequestSeqOf(msg); ok {
		b.mu.Lock()
		pend, found := b.pending[requestSeq]
		if found {
			delete(b.pending, requestSeq)
		}
		b.mu.Unlock()

		if !found {
			logrus.WithField("request_seq", requestSeq).Warn("broker: response for unknown debuggee request")
			return
		}

		internaldap.StampRequestSeq(msg, pend.clientRequestSeq)
		if err := b.client.SendMsg(msg); err != nil {
			logrus.WithError(err).Error("broker: forward debuggee response to client")
		}

		if pend.command == "disconnect" {
			b.mu.Lock()
			q := b.debuggee
			b.mu.Unlock()
			if q != nil {
				go func() {
					_ = q.Stop()
					b.emitTerminated()
				}()
			}
		}
		return
	}

	if err := b.client.SendMsg(msg); err != nil {
		logrus.WithError(err).Error("broker: forward debuggee event to client")
	}
}

// ConnectionMade implements mpqueue.Handler; fired once the debuggee
// socket connects (spec.md §4.3's connection_made hook).
func (b *Broker) ConnectionMade() {
	logrus.Debug("broker: debuggee connected")
	b.setState(StateRunning)
}

// ConnectionClosed implements mpqueue.Handler: spec.md §4.4's "debuggee
// disconnect during Running ... fatal to forwarded [requests]; they
// receive an ErrorResponse."
func (b *Broker) ConnectionClosed(err error) {
	if err != nil {
		logrus.WithError(err).Warn("broker: debuggee connection closed")
	}

	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[int]pendingRequest)
	b.mu.Unlock()

	for _, pend := range pending {
		_ = b.sendClientError(pend.clientRequestSeq, pend.command, ErrDebuggeeDisconnected.Error())
	}

	b.emitTerminated()
}

func (b *Broker) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Broker) getState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// handleInitialize answers locally with the server capabilities spec.md
// §4.4 names, grounded on the teacher's Initialize handler in
// dap/adapter.go.
func (b *Broker) handleInitialize(req *dap.InitializeRequest) error {
	resp := &dap.InitializeResponse{
		Response: dap.Response{Command: "initialize", Success: true},
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsConditionalBreakpoints:   true,
			SupportsSetVariable:              true,
			SupportsTerminateRequest:         true,
			SupportTerminateDebuggee:         true,
			SupportsClipboardContext:         true,
			ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
				{Filter: "on_error", Label: "Task failure", Default: true},
				{Filter: "on_unreachable", Label: "Host unreachable", Default: false},
				{Filter: "on_skipped", Label: "Task skipped", Default: false},
			},
		},
	}
	internaldap.StampRequestSeq(resp, internaldap.SeqOf(req))
	if err := b.client.SendMsg(resp); err != nil {
		return err
	}
	b.setState(StateInitialized)
	return nil
}

// handleAttach implements spec.md §4.4's Attach operation: parse
// AttachArguments, resolve the debuggee address (PID-based via the
// discovery file or a direct address), optionally wrap TLS, connect, and
// emit the path-mapping OutputEvent over the new debuggee queue.
func (b *Broker) handleAttach(req *dap.AttachRequest) error {
	b.setState(StateAttaching)
	clientSeq := internaldap.SeqOf(req)

	var args AttachArguments
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return b.sendClientError(clientSeq, "attach", errors.Wrapf(ErrConfig, "parse attach arguments: %s", err).Error())
		}
	}

	addrStr := args.Address
	useTLS := args.UseTLS
	if args.ProcessID != 0 {
		info, err := discovery.Read(args.ProcessID)
		if err != nil {
			return b.sendClientError(clientSeq, "attach", errors.Wrap(err, "broker: read discovery file").Error())
		}
		addrStr = info.Address
		useTLS = info.UseTLS
	} else if args.Port != 0 {
		addrStr = addrStr + ":" + strconv.Itoa(args.Port)
	}

	addr, err := socket.ParseAddress(addrStr)
	if err != nil {
		return b.sendClientError(clientSeq, "attach", err.Error())
	}

	var tlsConfig *tls.Config
	if useTLS {
		tlsConfig, err = socket.NewClientTLSOptions(socket.ClientTLSOptions{Verify: args.TLSVerify})
		if err != nil {
			return b.sendClientError(clientSeq, "attach", err.Error())
		}
		if args.TLSClientCert != "" {
			cert, err := tls.LoadX509KeyPair(args.TLSClientCert, args.TLSClientCert)
			if err != nil {
				return b.sendClientError(clientSeq, "attach", errors.Wrap(err, "broker: load client certificate").Error())
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	q, err := mpqueue.DialClient(context.Background(), addr, b, internaldap.DefaultRegistry(), tlsConfig, 0)
	if err != nil {
		return b.sendClientError(clientSeq, "attach", errors.Wrap(err, "broker: dial debuggee").Error())
	}

	b.mu.Lock()
	b.debuggee = q.Queue
	b.mu.Unlock()

	resp := &dap.AttachResponse{Response: dap.Response{Command: "attach", Success: true}}
	internaldap.StampRequestSeq(resp, clientSeq)
	if err := b.client.SendMsg(resp); err != nil {
		return err
	}

	return b.emitPathMappingEvent(toMappings(args.PathMappings))
}

// emitPathMappingEvent sends a controller-bound OutputEvent carrying the
// path-mapping configuration as its data, over the debuggee queue (spec.md
// §4.4's Attach/Launch "emit a controller-bound OutputEvent carrying the
// path-mapping configuration as its data").
func (b *Broker) emitPathMappingEvent(mappings interface{}) error {
	b.mu.Lock()
	q := b.debuggee
	b.mu.Unlock()
	if q == nil {
		return nil
	}

	return q.Send(&dap.OutputEvent{
		Event: dap.Event{Event: "output"},
		Body: dap.OutputEventBody{
			Category: "telemetry",
			Output:   "ansibug:pathMappings",
			Data:     mappings,
		},
	})
}

// emitTerminated sends TerminatedEvent at most once per session (spec.md
// §4.4 "The broker emits TerminatedEvent at most once per session, guarded
// by a flag").
func (b *Broker) emitTerminated() {
	b.terminatedOnce.Do(func() {
		b.setState(StateTerminated)
		_ = b.client.SendMsg(&dap.TerminatedEvent{Event: dap.Event{Event: "terminated"}})
		close(b.terminated)
	})
}

// fail implements spec.md §4.4's "on any internal exception the broker
// emits ErrorResponse messages for every outstanding request and then
// TerminatedEvent; further client traffic is ignored."
func (b *Broker) fail(err error) {
	logrus.WithError(err).Error("broker: fatal error")

	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[int]pendingRequest)
	b.mu.Unlock()

	for _, pend := range pending {
		_ = b.sendClientError(pend.clientRequestSeq, pend.command, err.Error())
	}
	b.emitTerminated()
}

// handleDisconnect forwards to the debuggee, awaits its response
// (delivered back to the client through the normal pending-table path),
// then emits TerminatedEvent once the debuggee connection is gone. If
// there is no debuggee connection at all (Disconnect before Attach/Launch
// completed), terminate immediately.
func (b *Broker) handleDisconnect(req *dap.DisconnectRequest) error {
	b.setState(StateDisconnecting)

	b.mu.Lock()
	q := b.debuggee
	b.mu.Unlock()

	if q == nil {
		resp := &dap.DisconnectResponse{Response: dap.Response{Command: "disconnect", Success: true}}
		internaldap.StampRequestSeq(resp, internaldap.SeqOf(req))
		if err := b.client.SendMsg(resp); err != nil {
			return err
		}
		b.emitTerminated()
		return nil
	}

	// The matching DisconnectResponse arrives asynchronously through
	// OnMsgReceived, which stops the debuggee queue and emits
	// TerminatedEvent once it is forwarded to the client.
	return b.forward(req, "disconnect")
}

func (b *Broker) handleTerminate(req *dap.TerminateRequest) error {
	return b.forward(req, "terminate")
}

// Stop tears down whatever of the debuggee connection and client stream is
// still open, combining the close errors from each with go-multierror
// (SPEC_FULL.md PART B.2).
func (b *Broker) Stop() error {
	return stopAll(b)
}
