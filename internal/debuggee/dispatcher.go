// Package debuggee implements the process_message dispatcher
// original_source/_debuggee.py's AnsibleDebugger runs on its transport's
// receive thread: every DAP request the broker forwards (spec.md §6.1)
// is routed to the matching internal/controller.Controller method and
// the response sent back over the same message-queue connection
// (spec.md §5 "the transport's receive thread delivering requests into
// process_message").
package debuggee

import (
	"encoding/json"
	"sync/atomic"

	gdap "github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/jborean93/ansibug/internal/controller"
	internaldap "github.com/jborean93/ansibug/internal/dap"
	"github.com/jborean93/ansibug/internal/mpqueue"
	"github.com/jborean93/ansibug/internal/pathmap"
)

// queueSender adapts a *mpqueue.Queue that only exists once the
// transport's Start has returned to controller.Sender, which Controller
// needs at construction time, before any transport is connected. bind is
// called immediately after DialClient/Accept hands back a live queue; a
// send that races ahead of bind is dropped the same way a send after
// Teardown is (controller.go's emit/outboundLoop), rather than blocking
// or panicking.
type queueSender struct {
	q atomic.Pointer[mpqueue.Queue]
}

func newQueueSender() *queueSender { return &queueSender{} }

func (s *queueSender) bind(q *mpqueue.Queue) { s.q.Store(q) }

func (s *queueSender) Send(msg gdap.Message) error {
	q := s.q.Load()
	if q == nil {
		return errTransportNotReady
	}
	return q.Send(msg)
}

var errTransportNotReady = errNotReady("debuggee: transport not yet connected")

type errNotReady string

func (e errNotReady) Error() string { return string(e) }

// Dispatcher implements mpqueue.Handler, the debuggee side of the
// transport spec.md §4.3 describes. ConnectionMade/ConnectionClosed
// drive the Controller's StrategyBridge and teardown; OnMsgReceived
// routes every forwarded request to its Controller method.
type Dispatcher struct {
	ctrl   *controller.Controller
	sender *queueSender
}

// NewDispatcher constructs a Dispatcher that answers over sender, the
// same controller.Sender ctrl was constructed with (Run wires both from
// one newQueueSender so the controller's own emitted events and the
// dispatcher's request/response replies share one transport binding).
func NewDispatcher(ctrl *controller.Controller, sender *queueSender) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, sender: sender}
}

// ConnectionMade implements mpqueue.Handler, firing once the adapter's
// end of the transport connects (spec.md §4.3's connection_made hook).
// It records the transport as up on the StrategyBridge, mirroring
// original_source's _da_connected.set().
func (d *Dispatcher) ConnectionMade() {
	logrus.Debug("debuggee: adapter connected")
	d.ctrl.Bridge().TransportConnected()
}

// ConnectionClosed implements mpqueue.Handler: the adapter is gone, so
// tear the controller down the way spec.md §4.5.4 describes (wake every
// suspended thread with waiting_ended=true and stop accepting sends).
func (d *Dispatcher) ConnectionClosed(err error) {
	if err != nil {
		logrus.WithError(err).Warn("debuggee: transport connection closed")
	}
	if err := d.ctrl.Teardown(); err != nil {
		logrus.WithError(err).Error("debuggee: controller teardown")
	}
}

// OnMsgReceived implements mpqueue.Handler. Requests are routed to their
// matching Controller method and answered; the one non-request message
// the adapter sends over this transport, the path-mapping telemetry
// OutputEvent (broker.go's emitPathMappingEvent), is applied to the
// controller instead of being routed.
func (d *Dispatcher) OnMsgReceived(msg gdap.Message) {
	if out, ok := msg.(*gdap.OutputEvent); ok {
		d.handlePathMappingEvent(out)
		return
	}

	req, ok := msg.(gdap.RequestMessage)
	if !ok {
		return
	}

	command, _ := internaldap.CommandOf(req)
	resp := d.dispatch(command, req)
	if resp == nil {
		return
	}
	internaldap.StampRequestSeq(resp, internaldap.SeqOf(req))

	if err := d.sender.Send(resp); err != nil {
		logrus.WithError(err).WithField("command", command).Error("debuggee: send response")
	}
}

func (d *Dispatcher) handlePathMappingEvent(out *gdap.OutputEvent) {
	if out.Body.Category != "telemetry" || out.Body.Output != "ansibug:pathMappings" {
		return
	}

	raw, err := json.Marshal(out.Body.Data)
	if err != nil {
		logrus.WithError(err).Error("debuggee: re-marshal path mapping event")
		return
	}
	var mappings []pathmap.Mapping
	if err := json.Unmarshal(raw, &mappings); err != nil {
		logrus.WithError(err).Error("debuggee: decode path mapping event")
		return
	}
	d.ctrl.SetPathMapper(pathmap.New(mappings))
}

// dispatch is the singledispatch-over-command routing table
// original_source's process_message implements as a decorator per
// message type; command is go-dap's string discriminator instead, and
// every case calls straight through to the Controller method that does
// the work, with no DebugState indirection in between.
func (d *Dispatcher) dispatch(command string, req gdap.RequestMessage) gdap.ResponseMessage {
	switch command {
	case "configurationDone":
		return d.configurationDone(req.(*gdap.ConfigurationDoneRequest))
	case "setBreakpoints":
		return d.setBreakpoints(req.(*gdap.SetBreakpointsRequest))
	case "setExceptionBreakpoints":
		return d.setExceptionBreakpoints(req.(*gdap.SetExceptionBreakpointsRequest))
	case "continue":
		return d.continueReq(req.(*gdap.ContinueRequest))
	case "next":
		return d.next(req.(*gdap.NextRequest))
	case "stepIn":
		return d.stepIn(req.(*gdap.StepInRequest))
	case "stepOut":
		return d.stepOut(req.(*gdap.StepOutRequest))
	case "threads":
		return d.threads(req.(*gdap.ThreadsRequest))
	case "stackTrace":
		return d.stackTrace(req.(*gdap.StackTraceRequest))
	case "scopes":
		return d.scopes(req.(*gdap.ScopesRequest))
	case "variables":
		return d.variables(req.(*gdap.VariablesRequest))
	case "setVariable":
		return d.setVariable(req.(*gdap.SetVariableRequest))
	case "evaluate":
		return d.evaluate(req.(*gdap.EvaluateRequest))
	case "disconnect":
		return d.disconnect(req.(*gdap.DisconnectRequest))
	case "terminate":
		return d.terminate(req.(*gdap.TerminateRequest))
	default:
		return internaldap.NewErrorResponse(internaldap.SeqOf(req), command, "debuggee: unsupported command "+command)
	}
}

func (d *Dispatcher) configurationDone(req *gdap.ConfigurationDoneRequest) gdap.ResponseMessage {
	d.ctrl.Bridge().ConfigurationDone()
	return &gdap.ConfigurationDoneResponse{Response: gdap.Response{Command: "configurationDone", Success: true}}
}

func (d *Dispatcher) setBreakpoints(req *gdap.SetBreakpointsRequest) gdap.ResponseMessage {
	reqs := make([]controller.SourceBreakpoint, len(req.Arguments.Breakpoints))
	for i, b := range req.Arguments.Breakpoints {
		reqs[i] = controller.SourceBreakpoint{
			Line:         b.Line,
			Column:       b.Column,
			Condition:    b.Condition,
			HitCondition: b.HitCondition,
			LogMessage:   b.LogMessage,
		}
	}

	breakpoints := d.ctrl.SetBreakpoints(req.Arguments.Source.Path, req.Arguments.SourceModified, reqs)
	return &gdap.SetBreakpointsResponse{
		Response: gdap.Response{Command: "setBreakpoints", Success: true},
		Body:     gdap.SetBreakpointsResponseBody{Breakpoints: breakpoints},
	}
}

func (d *Dispatcher) setExceptionBreakpoints(req *gdap.SetExceptionBreakpointsRequest) gdap.ResponseMessage {
	var filters controller.ExceptionFilters
	for _, f := range req.Arguments.Filters {
		switch f {
		case "on_error":
			filters.OnError = true
		case "on_unreachable":
			filters.OnUnreachable = true
		case "on_skipped":
			filters.OnSkipped = true
		}
	}
	d.ctrl.SetExceptionFilters(filters)
	return &gdap.SetExceptionBreakpointsResponse{
		Response: gdap.Response{Command: "setExceptionBreakpoints", Success: true},
	}
}

func (d *Dispatcher) continueReq(req *gdap.ContinueRequest) gdap.ResponseMessage {
	d.ctrl.Continue(req.Arguments.ThreadId, false)
	return &gdap.ContinueResponse{
		Response: gdap.Response{Command: "continue", Success: true},
		Body:     gdap.ContinueResponseBody{AllThreadsContinued: false},
	}
}

func (d *Dispatcher) next(req *gdap.NextRequest) gdap.ResponseMessage {
	d.ctrl.Step(req.Arguments.ThreadId, controller.StepOver)
	return &gdap.NextResponse{Response: gdap.Response{Command: "next", Success: true}}
}

func (d *Dispatcher) stepIn(req *gdap.StepInRequest) gdap.ResponseMessage {
	d.ctrl.Step(req.Arguments.ThreadId, controller.StepIn)
	return &gdap.StepInResponse{Response: gdap.Response{Command: "stepIn", Success: true}}
}

func (d *Dispatcher) stepOut(req *gdap.StepOutRequest) gdap.ResponseMessage {
	d.ctrl.Step(req.Arguments.ThreadId, controller.StepOut)
	return &gdap.StepOutResponse{Response: gdap.Response{Command: "stepOut", Success: true}}
}

func (d *Dispatcher) threads(req *gdap.ThreadsRequest) gdap.ResponseMessage {
	return &gdap.ThreadsResponse{
		Response: gdap.Response{Command: "threads", Success: true},
		Body:     gdap.ThreadsResponseBody{Threads: d.ctrl.Threads()},
	}
}

func (d *Dispatcher) stackTrace(req *gdap.StackTraceRequest) gdap.ResponseMessage {
	frames, err := d.ctrl.StackTrace(req.Arguments.ThreadId)
	if err != nil {
		return internaldap.NewErrorResponse(internaldap.SeqOf(req), "stackTrace", err.Error())
	}
	return &gdap.StackTraceResponse{
		Response: gdap.Response{Command: "stackTrace", Success: true},
		Body:     gdap.StackTraceResponseBody{StackFrames: frames, TotalFrames: len(frames)},
	}
}

func (d *Dispatcher) scopes(req *gdap.ScopesRequest) gdap.ResponseMessage {
	scopes, err := d.ctrl.Scopes(req.Arguments.FrameId)
	if err != nil {
		return internaldap.NewErrorResponse(internaldap.SeqOf(req), "scopes", err.Error())
	}
	return &gdap.ScopesResponse{
		Response: gdap.Response{Command: "scopes", Success: true},
		Body:     gdap.ScopesResponseBody{Scopes: scopes},
	}
}

func (d *Dispatcher) variables(req *gdap.VariablesRequest) gdap.ResponseMessage {
	vars, err := d.ctrl.Variables(req.Arguments.VariablesReference)
	if err != nil {
		return internaldap.NewErrorResponse(internaldap.SeqOf(req), "variables", err.Error())
	}
	return &gdap.VariablesResponse{
		Response: gdap.Response{Command: "variables", Success: true},
		Body:     gdap.VariablesResponseBody{Variables: vars},
	}
}

func (d *Dispatcher) setVariable(req *gdap.SetVariableRequest) gdap.ResponseMessage {
	body, err := d.ctrl.SetVariable(req.Arguments.VariablesReference, req.Arguments.Name, req.Arguments.Value)
	if err != nil {
		return internaldap.NewErrorResponse(internaldap.SeqOf(req), "setVariable", err.Error())
	}
	return &gdap.SetVariableResponse{
		Response: gdap.Response{Command: "setVariable", Success: true},
		Body:     body,
	}
}

func (d *Dispatcher) evaluate(req *gdap.EvaluateRequest) gdap.ResponseMessage {
	result, err := d.ctrl.Evaluate(req.Arguments.Expression, req.Arguments.FrameId, controller.EvaluateContext(req.Arguments.Context))
	if err != nil {
		return internaldap.NewErrorResponse(internaldap.SeqOf(req), "evaluate", err.Error())
	}
	return &gdap.EvaluateResponse{
		Response: gdap.Response{Command: "evaluate", Success: true},
		Body: gdap.EvaluateResponseBody{
			Result:             result.Result,
			Type:               result.Type,
			VariablesReference: result.VariablesReference,
		},
	}
}

// disconnect and terminate both just tear the controller down and ack;
// the broker (not the debuggee) owns stopping the transport queue and
// emitting TerminatedEvent to the client once this response arrives
// (broker.go's OnMsgReceived "disconnect" special case).
func (d *Dispatcher) disconnect(req *gdap.DisconnectRequest) gdap.ResponseMessage {
	if err := d.ctrl.Teardown(); err != nil {
		logrus.WithError(err).Error("debuggee: teardown on disconnect")
	}
	return &gdap.DisconnectResponse{Response: gdap.Response{Command: "disconnect", Success: true}}
}

func (d *Dispatcher) terminate(req *gdap.TerminateRequest) gdap.ResponseMessage {
	if err := d.ctrl.Teardown(); err != nil {
		logrus.WithError(err).Error("debuggee: teardown on terminate")
	}
	return &gdap.TerminateResponse{Response: gdap.Response{Command: "terminate", Success: true}}
}
