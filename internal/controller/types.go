// Package controller implements the debuggee-side debug controller
// (spec.md §4.5): the breakpoint/source-info engine, thread/stackframe/
// variable registries, and the cross-thread rendezvous protocol that
// suspends execution workers at breakpoints until the client continues.
// It is a singleton inside the playbook process, constructed once at
// strategy bootstrap and passed down explicitly rather than hidden
// behind a package-level global.
package controller

import (
	"github.com/google/go-dap"
	"github.com/google/uuid"
)

// Task is the narrow view of a playbook-engine task the controller needs
// (spec.md §6.7 StrategyHost capability).
type Task interface {
	UUID() uuid.UUID
	// ParentUUID returns the owning include task's UUID and true, or the
	// zero UUID and false if this task has no parent.
	ParentUUID() (uuid.UUID, bool)
	Path() string
	Line() int
	Action() string
	// IsInclude reports whether this task's action expands into
	// dynamically-loaded child tasks (spec.md GLOSSARY "Include task").
	IsInclude() bool
	// SetOption mutates this task's module args in place.
	SetOption(name string, value any)
	RemoveOption(name string)
}

// Templater exposes the playbook engine's expression engine (spec.md
// §6.7 "a templating engine exposing template(expr, native=true,
// fail_on_undefined=true)").
type Templater interface {
	Template(expr string, native bool, failOnUndefined bool) (any, error)
}

// HostVars exposes a host's variables: Get backs the Host Variables scope
// and Set backs the !set_hostvar meta command. The Host Variables scope is
// registered without a setter, so SetVariable does not reach Set.
type HostVars interface {
	Set(host, name string, value any)
	Get(host string) map[string]any
}

// Sender delivers outbound DAP messages (requests initiated by the
// controller, and events) to the adapter over the message-queue
// transport (internal/mpqueue.Queue satisfies this).
type Sender interface {
	Send(msg dap.Message) error
}

// StepKind records which stepping request produced a thread's pending
// resume, per spec.md §4.5.2.
type StepKind int

const (
	StepNone StepKind = iota
	StepOver
	StepOut
	StepIn
)

// VariableChild is one named child produced by a Variable's getter.
// Children is non-nil only for container values (mappings or
// non-string sequences); leaf values have a nil Children, matching
// spec.md §4.5.3's "container variables are created on demand".
type VariableChild struct {
	Name     string
	Value    string
	Type     string
	Children func() []VariableChild
}

// Scope mirrors dap.Scope but keeps the backing Variable distinct from
// the wire type until Scopes() renders it.
type Scope struct {
	Name               string
	VariablesReference int
	Expensive          bool
}
