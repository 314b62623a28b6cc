package strategy

import (
	"testing"

	"github.com/google/go-dap"

	"github.com/jborean93/ansibug/internal/controller"
)

type fakeBlock struct {
	path       string
	line       int
	executable bool
	children   []Block
}

func (b *fakeBlock) Path() string      { return b.path }
func (b *fakeBlock) Line() int         { return b.line }
func (b *fakeBlock) Executable() bool  { return b.executable }
func (b *fakeBlock) Children() []Block { return b.children }

type discardSender struct{}

func (discardSender) Send(dap.Message) error { return nil }

func TestRegisterPlayWalksNestedBlocks(t *testing.T) {
	c := controller.New(discardSender{}, nil, nil, nil)
	defer c.Teardown()

	a := New(c)
	a.RegisterPlay([]Block{
		&fakeBlock{path: "/p/main.yml", line: 2, executable: false, children: []Block{
			&fakeBlock{path: "/p/main.yml", line: 3, executable: true},
			&fakeBlock{path: "/p/main.yml", line: 4, executable: true},
		}},
	})

	got := c.SetBreakpoints("/p/main.yml", false, []controller.SourceBreakpoint{{Line: 3}})
	if len(got) != 1 || !got[0].Verified || got[0].Line != 3 {
		t.Fatalf("expected line 3 to resolve as a verified breakpoint, got %+v", got)
	}
}
