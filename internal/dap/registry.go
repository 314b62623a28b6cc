package dap

import (
	"github.com/google/go-dap"
)

// Registry is a static, program-start-built lookup table keyed by
// (type, command|event). It replaces the source implementation's runtime
// metaclass-based decoder registration (spec.md §9 "Polymorphic message
// registry") with an explicit table of constructors.
type Registry struct {
	requests  map[string]func() dap.RequestMessage
	responses map[string]func() dap.ResponseMessage
	events    map[string]func() dap.EventMessage
}

func NewRegistry() *Registry {
	return &Registry{
		requests:  make(map[string]func() dap.RequestMessage),
		responses: make(map[string]func() dap.ResponseMessage),
		events:    make(map[string]func() dap.EventMessage),
	}
}

func (r *Registry) RegisterRequest(command string, newFn func() dap.RequestMessage) {
	r.requests[command] = newFn
}

func (r *Registry) RegisterResponse(command string, newFn func() dap.ResponseMessage) {
	r.responses[command] = newFn
}

func (r *Registry) RegisterEvent(event string, newFn func() dap.EventMessage) {
	r.events[event] = newFn
}

func (r *Registry) request(command string) (func() dap.RequestMessage, bool) {
	fn, ok := r.requests[command]
	return fn, ok
}

func (r *Registry) response(command string) (func() dap.ResponseMessage, bool) {
	fn, ok := r.responses[command]
	return fn, ok
}

func (r *Registry) event(name string) (func() dap.EventMessage, bool) {
	fn, ok := r.events[name]
	return fn, ok
}

// DefaultRegistry returns the registry covering every request, response,
// and event spec.md §6.1 names: the inbound requests the adapter must
// handle, the requests forwarded to the debuggee (and their responses),
// and the events either side may emit.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// Requests the adapter handles locally.
	r.RegisterRequest("initialize", func() dap.RequestMessage { return &dap.InitializeRequest{} })
	r.RegisterRequest("attach", func() dap.RequestMessage { return &dap.AttachRequest{} })
	r.RegisterRequest("launch", func() dap.RequestMessage { return &dap.LaunchRequest{} })
	r.RegisterRequest("runInTerminal", func() dap.RequestMessage { return &dap.RunInTerminalRequest{} })
	r.RegisterRequest("disconnect", func() dap.RequestMessage { return &dap.DisconnectRequest{} })
	r.RegisterRequest("terminate", func() dap.RequestMessage { return &dap.TerminateRequest{} })

	// Requests forwarded verbatim to the debuggee.
	r.RegisterRequest("configurationDone", func() dap.RequestMessage { return &dap.ConfigurationDoneRequest{} })
	r.RegisterRequest("setBreakpoints", func() dap.RequestMessage { return &dap.SetBreakpointsRequest{} })
	r.RegisterRequest("setExceptionBreakpoints", func() dap.RequestMessage { return &dap.SetExceptionBreakpointsRequest{} })
	r.RegisterRequest("continue", func() dap.RequestMessage { return &dap.ContinueRequest{} })
	r.RegisterRequest("next", func() dap.RequestMessage { return &dap.NextRequest{} })
	r.RegisterRequest("stepIn", func() dap.RequestMessage { return &dap.StepInRequest{} })
	r.RegisterRequest("stepOut", func() dap.RequestMessage { return &dap.StepOutRequest{} })
	r.RegisterRequest("threads", func() dap.RequestMessage { return &dap.ThreadsRequest{} })
	r.RegisterRequest("stackTrace", func() dap.RequestMessage { return &dap.StackTraceRequest{} })
	r.RegisterRequest("scopes", func() dap.RequestMessage { return &dap.ScopesRequest{} })
	r.RegisterRequest("variables", func() dap.RequestMessage { return &dap.VariablesRequest{} })
	r.RegisterRequest("setVariable", func() dap.RequestMessage { return &dap.SetVariableRequest{} })
	r.RegisterRequest("evaluate", func() dap.RequestMessage { return &dap.EvaluateRequest{} })
	r.RegisterRequest("source", func() dap.RequestMessage { return &dap.SourceRequest{} })

	// Responses the broker expects back from the debuggee (and from the
	// client for runInTerminal), keyed by command. ErrorResponse is
	// special-cased in the decoder: any response with success=false
	// decodes as *dap.ErrorResponse regardless of command.
	for _, command := range []string{
		"initialize", "attach", "launch", "runInTerminal", "disconnect", "terminate",
		"configurationDone", "setBreakpoints", "setExceptionBreakpoints",
		"continue", "next", "stepIn", "stepOut", "threads", "stackTrace",
		"scopes", "variables", "setVariable", "evaluate", "source",
	} {
		command := command
		r.RegisterResponse(command, responseConstructor(command))
	}

	// Events either side may emit.
	r.RegisterEvent("initialized", func() dap.EventMessage { return &dap.InitializedEvent{} })
	r.RegisterEvent("breakpoint", func() dap.EventMessage { return &dap.BreakpointEvent{} })
	r.RegisterEvent("thread", func() dap.EventMessage { return &dap.ThreadEvent{} })
	r.RegisterEvent("stopped", func() dap.EventMessage { return &dap.StoppedEvent{} })
	r.RegisterEvent("output", func() dap.EventMessage { return &dap.OutputEvent{} })
	r.RegisterEvent("exited", func() dap.EventMessage { return &dap.ExitedEvent{} })
	r.RegisterEvent("terminated", func() dap.EventMessage { return &dap.TerminatedEvent{} })

	return r
}

func responseConstructor(command string) func() dap.ResponseMessage {
	switch command {
	case "initialize":
		return func() dap.ResponseMessage { return &dap.InitializeResponse{} }
	case "attach":
		return func() dap.ResponseMessage { return &dap.AttachResponse{} }
	case "launch":
		return func() dap.ResponseMessage { return &dap.LaunchResponse{} }
	case "runInTerminal":
		return func() dap.ResponseMessage { return &dap.RunInTerminalResponse{} }
	case "disconnect":
		return func() dap.ResponseMessage { return &dap.DisconnectResponse{} }
	case "terminate":
		return func() dap.ResponseMessage { return &dap.TerminateResponse{} }
	case "configurationDone":
		return func() dap.ResponseMessage { return &dap.ConfigurationDoneResponse{} }
	case "setBreakpoints":
		return func() dap.ResponseMessage { return &dap.SetBreakpointsResponse{} }
	case "setExceptionBreakpoints":
		return func() dap.ResponseMessage { return &dap.SetExceptionBreakpointsResponse{} }
	case "continue":
		return func() dap.ResponseMessage { return &dap.ContinueResponse{} }
	case "next":
		return func() dap.ResponseMessage { return &dap.NextResponse{} }
	case "stepIn":
		return func() dap.ResponseMessage { return &dap.StepInResponse{} }
	case "stepOut":
		return func() dap.ResponseMessage { return &dap.StepOutResponse{} }
	case "threads":
		return func() dap.ResponseMessage { return &dap.ThreadsResponse{} }
	case "stackTrace":
		return func() dap.ResponseMessage { return &dap.StackTraceResponse{} }
	case "scopes":
		return func() dap.ResponseMessage { return &dap.ScopesResponse{} }
	case "variables":
		return func() dap.ResponseMessage { return &dap.VariablesResponse{} }
	case "setVariable":
		return func() dap.ResponseMessage { return &dap.SetVariableResponse{} }
	case "evaluate":
		return func() dap.ResponseMessage { return &dap.EvaluateResponse{} }
	case "source":
		return func() dap.ResponseMessage { return &dap.SourceResponse{} }
	default:
		return nil
	}
}
