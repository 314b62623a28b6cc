// Package strategy implements the concrete StrategyHost bridge (spec.md
// §6.7): the playbook engine's execution plug-in that hooks per-task
// lifecycle callbacks and drives internal/controller. It is the thin
// "Strategy adapter" named in spec.md §2's component table.
package strategy

import (
	"github.com/jborean93/ansibug/internal/controller"
)

// Block is one node of the engine's static play structure: a play, a
// block/rescue/always section, or a task. RegisterPlay/RegisterIncluded
// walk a Block tree to populate the controller's source-info map
// (spec.md §4.5.1 "As new lines are registered by the strategy").
type Block interface {
	Path() string
	Line() int
	// Executable reports whether this line can host a breakpoint: true
	// for a task, false for a block/rescue/always header or an include
	// directive line itself (spec.md §3 SourceInfoMap Invalid/Valid).
	Executable() bool
	Children() []Block
}

// Adapter wires the engine's callbacks to a Controller. Constructed
// once at strategy bootstrap and passed down explicitly, consistent
// with spec.md §9's "no hidden global" redesign note.
type Adapter struct {
	controller *controller.Controller
}

// New builds a strategy Adapter over an already-constructed Controller.
func New(c *controller.Controller) *Adapter {
	return &Adapter{controller: c}
}

// Start registers this adapter's run with the controller's StrategyBridge
// (spec.md §4.5), blocking until the client's ConfigurationDoneRequest
// arrives when waitForClient is true and an adapter is already connected.
// The caller must defer the returned release once the engine's run ends,
// mirroring original_source's with_strategy context manager.
func (a *Adapter) Start(waitForClient bool) (release func(), err error) {
	return a.controller.Bridge().Enter(waitForClient)
}

// RegisterPlay implements spec.md §6.7's register_play(play_blocks),
// invoked once a play's static structure has been parsed.
func (a *Adapter) RegisterPlay(blocks []Block) {
	for _, b := range blocks {
		a.registerBlock(b)
	}
}

// RegisterIncluded implements register_included(blocks), invoked when
// an include task expands into dynamically-loaded child blocks.
func (a *Adapter) RegisterIncluded(blocks []Block) {
	for _, b := range blocks {
		a.registerBlock(b)
	}
}

func (a *Adapter) registerBlock(b Block) {
	a.controller.RegisterPathBreakpoint(b.Path(), b.Line(), b.Executable())
	for _, child := range b.Children() {
		a.registerBlock(child)
	}
}

// ProcessTask implements spec.md §6.7's process_task(host, task,
// task_vars) → stackframe, called by the engine's worker before a task
// runs. It blocks the calling worker goroutine until the controller
// releases it, exactly when a stop condition fires.
func (a *Adapter) ProcessTask(host string, task controller.Task, taskVars map[string]any) (frameID int, waitingEnded bool) {
	return a.controller.ProcessTask(host, task, taskVars)
}

// ProcessTaskResult implements process_task_result(host, task, result),
// called by the engine's worker after a task returns.
func (a *Adapter) ProcessTaskResult(threadID int, task controller.Task, result controller.TaskResult) (waitingEnded bool) {
	return a.controller.ProcessTaskResult(threadID, task, result)
}
