package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"
)

type fakeTask struct {
	uuid       uuid.UUID
	parent     uuid.UUID
	hasParent  bool
	path       string
	line       int
	action     string
	isInclude  bool
	options    map[string]any
	removed    []string
}

func newFakeTask(path string, line int) *fakeTask {
	return &fakeTask{uuid: uuid.New(), path: path, line: line, action: "debug", options: map[string]any{}}
}

func (t *fakeTask) UUID() uuid.UUID                 { return t.uuid }
func (t *fakeTask) ParentUUID() (uuid.UUID, bool)    { return t.parent, t.hasParent }
func (t *fakeTask) Path() string                     { return t.path }
func (t *fakeTask) Line() int                        { return t.line }
func (t *fakeTask) Action() string                   { return t.action }
func (t *fakeTask) IsInclude() bool                  { return t.isInclude }
func (t *fakeTask) SetOption(name string, value any) { t.options[name] = value }
func (t *fakeTask) RemoveOption(name string)         { t.removed = append(t.removed, name) }

type fakeTemplater struct{}

func (fakeTemplater) Template(expr string, native, failOnUndefined bool) (any, error) {
	return expr, nil
}

type fakeHostVars struct {
	mu   sync.Mutex
	vars map[string]map[string]any
}

func newFakeHostVars() *fakeHostVars { return &fakeHostVars{vars: map[string]map[string]any{}} }

func (h *fakeHostVars) Set(host, name string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.vars[host] == nil {
		h.vars[host] = map[string]any{}
	}
	h.vars[host][name] = value
}

func (h *fakeHostVars) Get(host string) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vars[host]
}

type fakeSender struct {
	mu   sync.Mutex
	sent []dap.Message
}

func (s *fakeSender) Send(msg dap.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) snapshot() []dap.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dap.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

func TestProcessTaskStopsOnBreakpointAndContinueReleases(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, nil, fakeTemplater{}, newFakeHostVars())
	defer c.Teardown()

	c.breakpoints.RegisterPathBreakpoint("/p/main.yml", 5, true)
	c.SetBreakpoints("/p/main.yml", false, []SourceBreakpoint{{Line: 5}})

	task := newFakeTask("/p/main.yml", 5)

	resultCh := make(chan int, 1)
	go func() {
		frameID, _ := c.ProcessTask("host1", task, map[string]any{"x": 1})
		resultCh <- frameID
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !c.waiting.isWaiting(2) {
		time.Sleep(time.Millisecond)
	}
	if !c.waiting.isWaiting(2) {
		t.Fatal("expected thread 2 to be suspended on the breakpoint")
	}

	c.Continue(2, false)

	select {
	case <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("ProcessTask never returned after Continue")
	}

	found := false
	for _, msg := range sender.snapshot() {
		if _, ok := msg.(*dap.StoppedEvent); ok {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a StoppedEvent to have been sent")
	}
}

func TestEvaluateTemplateMetaCommand(t *testing.T) {
	c := New(&fakeSender{}, nil, fakeTemplater{}, newFakeHostVars())
	defer c.Teardown()

	got, err := c.Evaluate("!template foo", 0, ContextRepl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Result != "foo" {
		t.Fatalf("expected templated result 'foo', got %q", got.Result)
	}
}

func TestEvaluateSetOptionMutatesTask(t *testing.T) {
	c := New(&fakeSender{}, nil, fakeTemplater{}, newFakeHostVars())
	defer c.Teardown()

	task := newFakeTask("/p/main.yml", 3)
	frame := c.threads.newFrame(1, task, nil)
	c.threads.threads[1].push(frame)

	_, err := c.Evaluate("!so name value", frame.ID, ContextRepl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.options["name"] != "value" {
		t.Fatalf("expected SetOption to have mutated the task, got %+v", task.options)
	}
}

func TestEvaluateUnknownMetaCommand(t *testing.T) {
	c := New(&fakeSender{}, nil, fakeTemplater{}, newFakeHostVars())
	defer c.Teardown()

	_, err := c.Evaluate("!bogus", 0, ContextRepl)
	if err == nil {
		t.Fatal("expected an error for an unknown meta command")
	}
}
