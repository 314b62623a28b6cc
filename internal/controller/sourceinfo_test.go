package controller

import "testing"

func TestSnapNoEntriesLeavesUnresolved(t *testing.T) {
	m := newSourceInfoMap()
	if !m.empty() {
		t.Fatalf("expected empty map")
	}
}

func TestSnapPastLastEntrySnapsToLast(t *testing.T) {
	m := newSourceInfoMap()
	m.register(5, lineValid)

	got := m.snap(100)
	if got.line != 5 || !got.verified {
		t.Fatalf("expected snap to last entry (5), got %+v", got)
	}
}

func TestSnapLifecycleTwoRegistrations(t *testing.T) {
	m := newSourceInfoMap()
	m.register(5, lineValid)

	first := m.snap(6)
	if !first.verified || first.line != 5 || first.endLine != 5 {
		t.Fatalf("expected {true 5 5}, got %+v", first)
	}

	m.register(8, lineValid)
	second := m.snap(6)
	if !second.verified || second.line != 5 || second.endLine != 7 {
		t.Fatalf("expected {true 5 7}, got %+v", second)
	}
}

func TestSnapInvalidLine(t *testing.T) {
	m := newSourceInfoMap()
	m.register(3, lineInvalid)

	got := m.snap(3)
	if got.verified {
		t.Fatalf("expected unverified for invalid line, got %+v", got)
	}
}

func TestSnapIsIdempotent(t *testing.T) {
	m := newSourceInfoMap()
	m.register(4, lineValid)
	m.register(9, lineValid)

	a := m.snap(6)
	b := m.snap(6)
	if a != b {
		t.Fatalf("snap not idempotent: %+v != %+v", a, b)
	}
}
