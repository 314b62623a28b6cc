package controller

import (
	"sync"

	"github.com/google/go-dap"
)

// SourceBreakpoint is the client-supplied breakpoint request (spec.md
// §3 "SourceBreakpoint").
type SourceBreakpoint struct {
	Line         int
	Column       int
	Condition    string
	HitCondition string
	LogMessage   string
}

// Breakpoint is the server-assigned result (spec.md §3 "Breakpoint").
// Id is unique across the session.
type Breakpoint struct {
	ID       int
	Verified bool
	Message  string
	Line     int
	EndLine  int
}

func (b Breakpoint) toDAP(source dap.Source) dap.Breakpoint {
	return dap.Breakpoint{
		Id:       b.ID,
		Verified: b.Verified,
		Message:  b.Message,
		Source:   source,
		Line:     b.Line,
		EndLine:  b.EndLine,
	}
}

// ansibleLineBreakpoint pairs a client SourceBreakpoint with its
// resolved Breakpoint and canonical (path-mapped) source path.
type ansibleLineBreakpoint struct {
	path     string
	request  SourceBreakpoint
	resolved Breakpoint
}

// breakpointTable is the controller's breakpoint registry plus
// per-source info maps, guarded by a single mutex (spec.md §5
// "the breakpoint table and source-info map are guarded by a single
// mutex; write-heavy only during breakpoint resolution").
type breakpointTable struct {
	mu sync.Mutex

	nextID      int
	bySource    map[string][]*ansibleLineBreakpoint
	sourceInfos map[string]*sourceInfoMap
}

func newBreakpointTable() *breakpointTable {
	return &breakpointTable{
		nextID:      1,
		bySource:    make(map[string][]*ansibleLineBreakpoint),
		sourceInfos: make(map[string]*sourceInfoMap),
	}
}

func (t *breakpointTable) sourceInfo(path string) *sourceInfoMap {
	m, ok := t.sourceInfos[path]
	if !ok {
		m = newSourceInfoMap()
		t.sourceInfos[path] = m
	}
	return m
}

// resolve computes a Breakpoint for req against path's current source
// info, implementing spec.md §4.5.1 steps 2-4.
func (t *breakpointTable) resolve(path string, req SourceBreakpoint, sourceModified bool, id int) Breakpoint {
	if sourceModified {
		return Breakpoint{ID: id, Verified: false, Message: "Cannot set breakpoint on a modified source."}
	}

	info := t.sourceInfo(path)
	if info.empty() {
		return Breakpoint{
			ID:       id,
			Verified: false,
			Message:  "File has not been loaded by Ansible, cannot detect breakpoints yet.",
			Line:     req.Line,
		}
	}

	snapped := info.snap(req.Line)
	if !snapped.verified {
		return Breakpoint{
			ID:       id,
			Verified: false,
			Message:  "Breakpoint cannot be set here.",
			Line:     snapped.line,
			EndLine:  snapped.endLine,
		}
	}
	return Breakpoint{ID: id, Verified: true, Line: snapped.line, EndLine: snapped.endLine}
}

// SetBreakpoints replaces the breakpoint set for path (spec.md §4.5.1
// step 5: "existing breakpoints in this source are cleared and
// replaced with the new list, atomic from the client's perspective").
func (t *breakpointTable) SetBreakpoints(path string, sourceModified bool, reqs []SourceBreakpoint) []Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*ansibleLineBreakpoint, 0, len(reqs))
	results := make([]Breakpoint, 0, len(reqs))
	for _, req := range reqs {
		id := t.nextID
		t.nextID++
		resolved := t.resolve(path, req, sourceModified, id)
		out = append(out, &ansibleLineBreakpoint{path: path, request: req, resolved: resolved})
		results = append(results, resolved)
	}
	t.bySource[path] = out
	return results
}

// breakpointChange describes one breakpoint whose resolved fields
// changed after a re-snap, to be emitted as a BreakpointEvent.
type breakpointChange struct {
	breakpoint Breakpoint
}

// RegisterPathBreakpoint records that path's line carries kind and
// re-snaps every breakpoint registered against path, returning the
// subset whose (verified, line, end_line, message) triple changed
// (spec.md §4.5.1 "As new lines are registered...").
func (t *breakpointTable) RegisterPathBreakpoint(path string, line int, valid bool) []breakpointChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	kind := lineInvalid
	if valid {
		kind = lineValid
	}
	t.sourceInfo(path).register(line, kind)

	var changes []breakpointChange
	for _, bp := range t.bySource[path] {
		updated := t.resolve(path, bp.request, false, bp.resolved.ID)
		if updated != bp.resolved {
			bp.resolved = updated
			changes = append(changes, breakpointChange{breakpoint: updated})
		}
	}
	return changes
}

// hitBreakpoints returns the ids of every verified breakpoint on path
// whose [line, end_line] range contains line, for stop-reason detection
// in process_task (spec.md §4.5.2 step 3 "Line breakpoint").
func (t *breakpointTable) hitBreakpoints(path string, line int) []*ansibleLineBreakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	var hits []*ansibleLineBreakpoint
	for _, bp := range t.bySource[path] {
		if bp.resolved.Verified && line >= bp.resolved.Line && line <= bp.resolved.EndLine {
			hits = append(hits, bp)
		}
	}
	return hits
}
