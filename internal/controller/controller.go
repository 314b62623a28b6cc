package controller

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jborean93/ansibug/internal/pathmap"
	"github.com/jborean93/ansibug/util/syncutil"
)

// Controller is the debuggee-side singleton described by spec.md §4.5.
// It is constructed once at strategy bootstrap and threaded explicitly
// through the strategy adapter; nothing here is package-level state.
type Controller struct {
	breakpoints *breakpointTable
	threads     *registries
	waiting     *waitMonitor
	bridge      *StrategyBridge

	pathMapper atomic.Pointer[pathmap.Mapper]
	templater  Templater
	hostVars   HostVars

	filtersMu sync.Mutex
	filters   ExceptionFilters

	sendMu   sync.Mutex
	closed   bool
	outbound chan dap.Message
	sender   Sender
	wg       sync.WaitGroup

	terminatedOnce sync.Once
}

// New constructs a Controller. sender delivers outbound messages over
// the transport to the adapter (spec.md §4.5 "the outbound DAP send
// queue, a bounded MPSC delivering to the adapter socket").
func New(sender Sender, mapper *pathmap.Mapper, templater Templater, hostVars HostVars) *Controller {
	c := &Controller{
		breakpoints: newBreakpointTable(),
		threads:     newRegistries(),
		waiting:     newWaitMonitor(),
		bridge:      NewStrategyBridge(),
		templater:   templater,
		hostVars:    hostVars,
		outbound:    make(chan dap.Message, 64),
		sender:      sender,
	}
	c.pathMapper.Store(mapper)
	c.wg.Add(1)
	go c.outboundLoop()
	return c
}

// Bridge returns the controller's StrategyBridge (spec.md §4.5), the
// synchronization point between the debuggee's transport connecting and a
// strategy's startup being allowed to proceed.
func (c *Controller) Bridge() *StrategyBridge {
	return c.bridge
}

// SetPathMapper replaces the path-mapping configuration, applied from the
// Attach/Launch-time OutputEvent the adapter sends across the transport
// once the client's pathMappings are known (spec.md §4.6). Safe to call
// concurrently with SetBreakpoints/RegisterPathBreakpoint/StackTrace.
func (c *Controller) SetPathMapper(mapper *pathmap.Mapper) {
	c.pathMapper.Store(mapper)
}

func (c *Controller) outboundLoop() {
	defer c.wg.Done()
	for msg := range c.outbound {
		if c.sender == nil {
			continue
		}
		_ = c.sender.Send(msg)
	}
}

// emit enqueues msg on the outbound send queue (spec.md §4.5 "a bounded
// MPSC delivering to the adapter socket"). Sends after Teardown has
// begun are dropped rather than panicking on a closed channel or
// blocking forever (spec.md §4.5.4 step (b) "mark the queue inactive so
// further sends are dropped").
func (c *Controller) emit(msg dap.Message) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.outbound <- msg
}

// SetBreakpoints implements spec.md §4.5.1. localPath is the path as
// the client sent it; it is mapped to the canonical remote path before
// resolution and mapped back for the response's Source.
func (c *Controller) SetBreakpoints(localPath string, sourceModified bool, reqs []SourceBreakpoint) []dap.Breakpoint {
	remotePath := localPath
	if mapper := c.pathMapper.Load(); mapper != nil {
		remotePath = mapper.ToRemote(localPath)
	}

	resolved := c.breakpoints.SetBreakpoints(remotePath, sourceModified, reqs)
	src := dap.Source{Path: localPath}

	out := make([]dap.Breakpoint, len(resolved))
	for i, bp := range resolved {
		out[i] = bp.toDAP(src)
	}
	return out
}

// RegisterPathBreakpoint records a newly-discovered source line and
// emits a BreakpointEvent for every breakpoint whose resolved fields
// changed (spec.md §4.5.1).
func (c *Controller) RegisterPathBreakpoint(remotePath string, line int, valid bool) {
	changes := c.breakpoints.RegisterPathBreakpoint(remotePath, line, valid)
	if len(changes) == 0 {
		return
	}

	localPath := remotePath
	if mapper := c.pathMapper.Load(); mapper != nil {
		localPath = mapper.ToLocal(remotePath)
	}
	src := dap.Source{Path: localPath}

	for _, ch := range changes {
		c.emit(&dap.BreakpointEvent{
			Event: dap.Event{Event: "breakpoint"},
			Body: dap.BreakpointEventBody{
				Reason:     "changed",
				Breakpoint: ch.breakpoint.toDAP(src),
			},
		})
	}
}

// StopReason is the first-match-wins classification from spec.md
// §4.5.2 step 3.
type StopReason struct {
	Reason             string
	HitBreakpointIDs   []int
}

// ProcessTask implements spec.md §4.5.2 steps 1-4: get-or-create the
// host's thread, push a stackframe, determine whether to stop, and if
// so suspend the calling goroutine (the engine's worker "thread") until
// released. It returns the pushed frame id and, if the session ended
// while this thread was suspended, waitingEnded=true.
func (c *Controller) ProcessTask(host string, task Task, taskVars map[string]any) (frameID int, waitingEnded bool) {
	thread, created := c.threads.threadFor(host)
	if created {
		c.emit(&dap.ThreadEvent{
			Event: dap.Event{Event: "thread"},
			Body:  dap.ThreadEventBody{Reason: "started", ThreadId: thread.ID},
		})
	}

	// An include task's frame stays on the stack while its children run;
	// the first task that is not one of its descendants means they have
	// finished, so the frame is popped before the new one is pushed.
	for top := thread.top(); top != nil && top.Task.IsInclude() && !isAncestor(top.Task, task, c.threads.taskByUUID); top = thread.top() {
		thread.pop()
	}

	frame := c.threads.newFrame(thread.ID, task, taskVars)
	thread.push(frame)

	reason := c.stopReason(thread, task)
	if reason == nil {
		return frame.ID, false
	}

	c.emit(&dap.StoppedEvent{
		Event: dap.Event{Event: "stopped"},
		Body: dap.StoppedEventBody{
			Reason:           reason.Reason,
			ThreadId:         thread.ID,
			HitBreakpointIds: reason.HitBreakpointIDs,
		},
	})

	signal := c.waiting.suspend(thread.ID)
	if signal.waitingEnded {
		return frame.ID, true
	}

	c.applyStepRelease(thread, task, signal.stepKind)
	return frame.ID, false
}

// stopReason implements spec.md §4.5.2 step 3's first-match-wins list,
// excluding exception filters (checked in ProcessTaskResult instead).
func (c *Controller) stopReason(thread *Thread, task Task) *StopReason {
	switch thread.stepKind {
	case StepOver:
		// Stop iff the new task's parent-task UUID equals the stored
		// stepping-parent UUID: same logical level as the anchor task
		// (spec.md §4.5.2 step 3).
		if thread.anchorTask != nil {
			anchorParent, anchorHasParent := thread.anchorTask.ParentUUID()
			taskParent, taskHasParent := task.ParentUUID()
			if anchorHasParent == taskHasParent && (!anchorHasParent || anchorParent == taskParent) {
				return &StopReason{Reason: "step"}
			}
		}
	case StepOut:
		if thread.anchorTask != nil && !isAncestor(thread.anchorTask, task, c.threads.taskByUUID) {
			return &StopReason{Reason: "step"}
		}
	case StepIn:
		return &StopReason{Reason: "step"}
	}

	if hits := c.breakpoints.hitBreakpoints(task.Path(), task.Line()); len(hits) > 0 {
		var ids []int
		for _, bp := range hits {
			if bp.request.Condition != "" && c.templater != nil {
				ok, terr := c.evalCondition(bp.request.Condition)
				if terr != nil || !ok {
					// spec.md §7: a broken template evaluates to false,
					// degrading silently with no BreakpointEvent.
					continue
				}
			}
			ids = append(ids, bp.resolved.ID)
		}
		if len(ids) > 0 {
			return &StopReason{Reason: "breakpoint", HitBreakpointIDs: ids}
		}
	}

	return nil
}

func (c *Controller) evalCondition(expr string) (bool, error) {
	v, err := c.templater.Template(expr, true, true)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// isAncestor reports whether anchor is an ancestor of task (or task
// itself), walking ParentUUID links through lookup — the task registry
// populated by every ProcessTask call — so a nested include's task is
// still recognized as a descendant of an anchor several includes up
// (spec.md §4.5.2's step-out "ancestor" check).
func isAncestor(anchor, task Task, lookup func(uuid.UUID) (Task, bool)) bool {
	for {
		if task.UUID() == anchor.UUID() {
			return true
		}
		parentID, ok := task.ParentUUID()
		if !ok {
			return false
		}
		if parentID == anchor.UUID() {
			return true
		}
		parent, ok := lookup(parentID)
		if !ok {
			return false
		}
		task = parent
	}
}

// applyStepRelease implements spec.md §4.5.2 step 5: retrieve the
// step_kind the client requested on release, apply the StepIn-on-
// non-include-degrades-to-StepOver rule, and persist (step_kind,
// anchor_task) on the thread for the next task.
func (c *Controller) applyStepRelease(thread *Thread, task Task, kind StepKind) {
	if kind == StepIn && !task.IsInclude() {
		kind = StepOver
	}
	thread.stepKind = kind
	thread.anchorTask = task
}

// Continue releases threadID (or every suspended thread if all is
// true) with no pending step (spec.md §3 Invariants).
func (c *Controller) Continue(threadID int, all bool) {
	ids := []int{threadID}
	c.waiting.release(ids, all, StepNone)
}

// Step releases threadID with the given step kind.
func (c *Controller) Step(threadID int, kind StepKind) {
	c.waiting.release([]int{threadID}, false, kind)
}

// Threads implements spec.md §4.5.3's Threads(): the current thread
// list, each reported by its inventory host name (or "main" for the
// reserved id-1 thread before any host work has started).
func (c *Controller) Threads() []dap.Thread {
	threads := c.threads.allThreads()
	out := make([]dap.Thread, len(threads))
	for i, th := range threads {
		name := th.Host
		if name == "" {
			name = "main"
		}
		out[i] = dap.Thread{Id: th.ID, Name: name}
	}
	return out
}

// StackTrace implements spec.md §4.5.3's StackTrace(thread_id): the
// thread's task stack, innermost frame first.
func (c *Controller) StackTrace(threadID int) ([]dap.StackFrame, error) {
	thread, ok := c.threads.thread(threadID)
	if !ok {
		return nil, errors.Errorf("controller: unknown thread %d", threadID)
	}

	localPath := func(remote string) string {
		mapper := c.pathMapper.Load()
		if mapper == nil {
			return remote
		}
		return mapper.ToLocal(remote)
	}

	out := make([]dap.StackFrame, len(thread.Stack))
	for i := range thread.Stack {
		frame := thread.Stack[len(thread.Stack)-1-i]
		out[i] = dap.StackFrame{
			Id:     frame.ID,
			Name:   frame.Task.Action(),
			Source: &dap.Source{Path: localPath(frame.Task.Path())},
			Line:   frame.Task.Line(),
		}
	}
	return out, nil
}

// ExceptionFilters are the enabled SetExceptionBreakpoints filters
// (spec.md §4.5.2 step 3 "Exception filters (on_error, on_unreachable,
// on_skipped): checked in process_task_result, not here").
type ExceptionFilters struct {
	OnError       bool
	OnUnreachable bool
	OnSkipped     bool
}

// SetExceptionFilters replaces the controller's enabled exception
// filters, per the forwarded SetExceptionBreakpointsRequest (spec.md
// §6.1).
func (c *Controller) SetExceptionFilters(f ExceptionFilters) {
	c.filtersMu.Lock()
	defer c.filtersMu.Unlock()
	c.filters = f
}

// TaskResult is the outcome the strategy reports to ProcessTaskResult
// (spec.md §6.7 "process_task_result(host, task, result)").
type TaskResult struct {
	Failed      bool
	Skipped     bool
	Unreachable bool
	Data        map[string]any
}

// ProcessTaskResult implements the half of spec.md §4.5.2 not covered
// by ProcessTask: checking the enabled exception filters against
// result, suspending the thread on a match (populating the "Module
// Result" scope), and popping the frame once the task is done, unless
// it is an include-style action whose frame persists until its
// children finish.
func (c *Controller) ProcessTaskResult(threadID int, task Task, result TaskResult) (waitingEnded bool) {
	thread, ok := c.threads.thread(threadID)
	if !ok {
		return false
	}

	if frame := thread.top(); frame != nil && frame.Task == task {
		c.filtersMu.Lock()
		filters := c.filters
		c.filtersMu.Unlock()

		hit := (result.Failed && filters.OnError) ||
			(result.Unreachable && filters.OnUnreachable) ||
			(result.Skipped && filters.OnSkipped)

		if hit {
			frame.hasModuleResult = true
			frame.moduleResult = result.Data

			c.emit(&dap.StoppedEvent{
				Event: dap.Event{Event: "stopped"},
				Body:  dap.StoppedEventBody{Reason: "exception", ThreadId: thread.ID},
			})

			signal := c.waiting.suspend(thread.ID)
			if signal.waitingEnded {
				waitingEnded = true
			} else {
				c.applyStepRelease(thread, task, signal.stepKind)
			}
		}
	}

	if !task.IsInclude() {
		thread.pop()
	}
	return waitingEnded
}

// Scopes implements spec.md §4.5.3's Scopes(frame_id).
func (c *Controller) Scopes(frameID int) ([]dap.Scope, error) {
	frame, ok := c.threads.frameByID(frameID)
	if !ok {
		return nil, errors.Errorf("controller: unknown frame %d", frameID)
	}

	var scopes []dap.Scope
	if frame.hasModuleResult {
		scopes = append(scopes, c.newScope("Module Result", frameID, false, func() []VariableChild {
			return mapToChildren(frame.moduleResult)
		}))
	}
	scopes = append(scopes,
		c.newScope("Module Options", frameID, false, func() []VariableChild {
			return taskOptionsChildren(frame.Task)
		}),
		c.newScope("Task Variables", frameID, false, func() []VariableChild {
			return mapToChildren(frame.TaskVars)
		}),
		c.newScope("Host Variables", frameID, true, c.hostVarsGetter(frame)),
		c.newScope("Global Variables", frameID, true, func() []VariableChild {
			return mapToChildren(globalVars(frame.TaskVars))
		}),
	)
	return scopes, nil
}

// globalVars isolates the "vars" entry Ansible nests inside a task's
// variable snapshot (original_source's debug.py: add_collection_variable(sf,
// sf.task_vars["vars"])), which holds only the play/role/task-declared vars
// rather than the full inventory+facts+hostvars snapshot Task Variables
// exposes. Tasks outside a templated context (or test doubles) may omit the
// nested key entirely, in which case the full snapshot is the best answer
// available.
func globalVars(taskVars map[string]any) map[string]any {
	if nested, ok := taskVars["vars"].(map[string]any); ok {
		return nested
	}
	return taskVars
}

// hostVarsGetter memoizes the Host Variables scope's getter with
// syncutil.OnceValue: the scope is marked Expensive (spec.md §4.5.3) and
// the DAP client may re-expand the same VariablesReference more than once
// while the frame is suspended, so c.hostVars.Get is only called the
// first time per frame instead of once per Variables() round trip.
func (c *Controller) hostVarsGetter(frame *StackFrame) func() []VariableChild {
	var once syncutil.OnceValue[[]VariableChild]
	return func() []VariableChild {
		children, _ := once.Do(func() ([]VariableChild, error) {
			if c.hostVars == nil {
				return nil, nil
			}
			thread, _ := c.threads.thread(frame.ThreadID)
			host := ""
			if thread != nil {
				host = thread.Host
			}
			return mapToChildren(c.hostVars.Get(host)), nil
		})
		return children
	}
}

func (c *Controller) newScope(name string, frameID int, expensive bool, getter func() []VariableChild) dap.Scope {
	v := c.threads.newVariable(frameID, getter, nil)
	return dap.Scope{Name: name, VariablesReference: v.ID, Expensive: expensive}
}

// Variables implements spec.md §4.5.3's Variables(ref): call the
// registered getter and allocate a fresh child Variable id for every
// container child, on demand.
func (c *Controller) Variables(ref int) ([]dap.Variable, error) {
	v, ok := c.threads.variable(ref)
	if !ok {
		return nil, errors.Errorf("controller: unknown variable reference %d", ref)
	}

	children := v.getter()
	out := make([]dap.Variable, len(children))
	for i, ch := range children {
		varRef := 0
		if ch.Children != nil {
			child := c.threads.newVariable(v.StackFrameID, ch.Children, nil)
			varRef = child.ID
		}
		out[i] = dap.Variable{Name: ch.Name, Value: ch.Value, Type: ch.Type, VariablesReference: varRef}
	}
	return out, nil
}

// SetVariable implements spec.md §4.5.3's SetVariable(ref, name, value).
func (c *Controller) SetVariable(ref int, name, value string) (dap.SetVariableResponseBody, error) {
	v, ok := c.threads.variable(ref)
	if !ok || v.setter == nil {
		return dap.SetVariableResponseBody{}, errors.New("controller: no registered setter")
	}

	var templated any = value
	if c.templater != nil {
		if t, err := c.templater.Template(value, true, true); err == nil {
			templated = t
		}
	}

	child, err := v.setter(name, templated)
	if err != nil {
		return dap.SetVariableResponseBody{}, err
	}

	varRef := 0
	if child.Children != nil {
		nv := c.threads.newVariable(v.StackFrameID, child.Children, nil)
		varRef = nv.ID
	}
	return dap.SetVariableResponseBody{Value: child.Value, Type: child.Type, VariablesReference: varRef}, nil
}

// Teardown implements spec.md §4.5.4: mark the queue inactive so
// further sends are dropped, drain what remains, and wake every
// waiting thread with waiting_ended=true so the strategy's run()
// returns through the normal path.
func (c *Controller) Teardown() error {
	c.terminatedOnce.Do(func() {
		c.waiting.endSession()

		c.sendMu.Lock()
		c.closed = true
		close(c.outbound)
		c.sendMu.Unlock()

		c.wg.Wait()
	})
	return nil
}

func mapToChildren(m map[string]any) []VariableChild {
	out := make([]VariableChild, 0, len(m))
	for k, v := range m {
		out = append(out, toChild(k, v))
	}
	return out
}

func toChild(name string, v any) VariableChild {
	switch val := v.(type) {
	case map[string]any:
		return VariableChild{Name: name, Value: fmt.Sprintf("map[%d]", len(val)), Type: "dict", Children: func() []VariableChild {
			return mapToChildren(val)
		}}
	case []any:
		return VariableChild{Name: name, Value: fmt.Sprintf("list[%d]", len(val)), Type: "list", Children: func() []VariableChild {
			children := make([]VariableChild, len(val))
			for i, item := range val {
				children[i] = toChild(fmt.Sprintf("[%d]", i), item)
			}
			return children
		}}
	default:
		return VariableChild{Name: name, Value: fmt.Sprintf("%v", val), Type: goType(val)}
	}
}

func goType(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case int, int64, float64:
		return "number"
	case string:
		return "str"
	case nil:
		return "NoneType"
	default:
		return "object"
	}
}

func taskOptionsChildren(task Task) []VariableChild {
	if task == nil {
		return nil
	}
	return []VariableChild{{Name: "action", Value: task.Action(), Type: "str"}}
}
