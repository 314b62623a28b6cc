package controller

import "testing"

func TestSetBreakpointsBeforeSourceLoaded(t *testing.T) {
	tbl := newBreakpointTable()
	got := tbl.SetBreakpoints("/p/main.yml", false, []SourceBreakpoint{{Line: 6}})

	if len(got) != 1 {
		t.Fatalf("expected 1 breakpoint, got %d", len(got))
	}
	if got[0].Verified || got[0].Line != 6 || got[0].ID != 1 {
		t.Fatalf("unexpected result: %+v", got[0])
	}
}

func TestSetBreakpointsSourceModified(t *testing.T) {
	tbl := newBreakpointTable()
	tbl.RegisterPathBreakpoint("/p/main.yml", 5, true)

	got := tbl.SetBreakpoints("/p/main.yml", true, []SourceBreakpoint{{Line: 5}})
	if got[0].Verified {
		t.Fatalf("expected unverified for modified source")
	}
}

func TestRegisterPathBreakpointEmitsChanges(t *testing.T) {
	tbl := newBreakpointTable()
	got := tbl.SetBreakpoints("/p/main.yml", false, []SourceBreakpoint{{Line: 6}})
	id := got[0].ID

	changes := tbl.RegisterPathBreakpoint("/p/main.yml", 5, true)
	if len(changes) != 1 || !changes[0].breakpoint.Verified || changes[0].breakpoint.Line != 5 || changes[0].breakpoint.EndLine != 5 {
		t.Fatalf("unexpected first change: %+v", changes)
	}
	if changes[0].breakpoint.ID != id {
		t.Fatalf("breakpoint id must stay stable across updates")
	}

	changes = tbl.RegisterPathBreakpoint("/p/main.yml", 8, true)
	if len(changes) != 1 || changes[0].breakpoint.EndLine != 7 {
		t.Fatalf("unexpected second change: %+v", changes)
	}

	// No observable change: re-registering the same line again must not
	// emit a duplicate BreakpointEvent.
	changes = tbl.RegisterPathBreakpoint("/p/main.yml", 8, true)
	if len(changes) != 0 {
		t.Fatalf("expected no changes on unchanged re-registration, got %+v", changes)
	}
}

func TestHitBreakpointsRange(t *testing.T) {
	tbl := newBreakpointTable()
	tbl.RegisterPathBreakpoint("/p/main.yml", 5, true)
	tbl.RegisterPathBreakpoint("/p/main.yml", 8, true)
	tbl.SetBreakpoints("/p/main.yml", false, []SourceBreakpoint{{Line: 6}})

	hits := tbl.hitBreakpoints("/p/main.yml", 5)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit at line 5, got %d", len(hits))
	}
	if len(tbl.hitBreakpoints("/p/main.yml", 8)) != 0 {
		t.Fatalf("line 8 is outside the snapped [5,7] range")
	}
}
