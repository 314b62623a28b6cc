package controller

import (
	"sync"

	"github.com/google/uuid"
)

// Thread is a suspended or runnable execution context for one inventory
// host (spec.md §3 "Thread"). Id 1 is the reserved main thread.
type Thread struct {
	ID    int
	Host  string
	Stack []*StackFrame

	// stepping state carried across process_task calls (spec.md §4.5.2
	// step 5: "Persist (step_kind, anchor_task) on the thread for the
	// next task").
	stepKind   StepKind
	anchorTask Task
}

func (t *Thread) push(f *StackFrame) {
	t.Stack = append(t.Stack, f)
}

func (t *Thread) pop() {
	if len(t.Stack) > 0 {
		t.Stack = t.Stack[:len(t.Stack)-1]
	}
}

func (t *Thread) top() *StackFrame {
	if len(t.Stack) == 0 {
		return nil
	}
	return t.Stack[len(t.Stack)-1]
}

// StackFrame is one suspended task execution (spec.md §3 "StackFrame").
type StackFrame struct {
	ID       int
	ThreadID int
	Task     Task
	TaskVars map[string]any

	// hasModuleResult gates the "Module Result" scope, present only when
	// the frame stopped on a failure/skip/unreachable exception (spec.md
	// §4.5.3).
	hasModuleResult bool
	moduleResult    map[string]any
}

// registeredVariable is one allocated Variable (spec.md §3 "Variable").
type registeredVariable struct {
	ID           int
	StackFrameID int
	getter       func() []VariableChild
	setter       func(name string, value any) (VariableChild, error)
}

// registries owns thread/stackframe/variable id allocation and storage.
// Thread ids start at 2 (id 1 is reserved for main); all three counters
// are monotonic and never reused within a session (spec.md §8
// properties 4-5 extended to frames/variables).
type registries struct {
	mu sync.Mutex

	threads      map[int]*Thread
	nextThreadID int

	nextFrameID int

	variables  map[int]*registeredVariable
	nextVarID  int

	// tasks is every task ever seen via newFrame, keyed by UUID, so
	// isAncestor can walk a full ParentUUID chain instead of the single
	// hop a bare Task value supports (spec.md §4.5.2's step-out "ancestor"
	// contract for nested includes).
	tasks map[uuid.UUID]Task
}

func newRegistries() *registries {
	main := &Thread{ID: 1, Host: "main"}
	return &registries{
		threads:      map[int]*Thread{1: main},
		nextThreadID: 2,
		nextFrameID:  1,
		variables:    make(map[int]*registeredVariable),
		nextVarID:    1,
		tasks:        make(map[uuid.UUID]Task),
	}
}

// threadFor returns the thread for host, creating it (and reporting
// created=true) if this is the first task seen for that host (spec.md
// §4.5.2 step 1).
func (r *registries) threadFor(host string) (thread *Thread, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, th := range r.threads {
		if th.Host == host {
			return th, false
		}
	}

	th := &Thread{ID: r.nextThreadID, Host: host}
	r.nextThreadID++
	r.threads[th.ID] = th
	return th, true
}

func (r *registries) thread(id int) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.threads[id]
	return th, ok
}

func (r *registries) allThreads() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Thread, 0, len(r.threads))
	for _, th := range r.threads {
		out = append(out, th)
	}
	return out
}

// removeThread destroys a host thread at play end (spec.md §3 "Thread"
// ... "destroyed at play end").
func (r *registries) removeThread(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, id)
}

func (r *registries) newFrame(threadID int, task Task, taskVars map[string]any) *StackFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := &StackFrame{ID: r.nextFrameID, ThreadID: threadID, Task: task, TaskVars: taskVars}
	r.nextFrameID++
	r.tasks[task.UUID()] = task
	return f
}

// taskByUUID looks up a previously-seen task by id, letting isAncestor walk
// a ParentUUID chain longer than the one hop a bare Task value carries.
func (r *registries) taskByUUID(id uuid.UUID) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

func (r *registries) frame(threadID, frameID int) (*StackFrame, bool) {
	th, ok := r.thread(threadID)
	if !ok {
		return nil, false
	}
	for _, f := range th.Stack {
		if f.ID == frameID {
			return f, true
		}
	}
	return nil, false
}

// frameByID searches every thread's stack for frameID, used by
// Scopes/Variables/Evaluate which address frames without a thread id.
func (r *registries) frameByID(frameID int) (*StackFrame, bool) {
	r.mu.Lock()
	threads := make([]*Thread, 0, len(r.threads))
	for _, th := range r.threads {
		threads = append(threads, th)
	}
	r.mu.Unlock()

	for _, th := range threads {
		for _, f := range th.Stack {
			if f.ID == frameID {
				return f, true
			}
		}
	}
	return nil, false
}

func (r *registries) newVariable(stackFrameID int, getter func() []VariableChild, setter func(name string, value any) (VariableChild, error)) *registeredVariable {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := &registeredVariable{ID: r.nextVarID, StackFrameID: stackFrameID, getter: getter, setter: setter}
	r.nextVarID++
	r.variables[v.ID] = v
	return v
}

func (r *registries) variable(id int) (*registeredVariable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variables[id]
	return v, ok
}
