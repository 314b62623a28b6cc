package controller

import (
	"sync"

	"github.com/pkg/errors"
)

// StrategyBridge is the controller-owned condition variable spec.md §4.5
// names as "a condition variable that pairs strategy threads with the
// controller for startup synchronization". Grounded on
// original_source/_debuggee.py's AnsibleDebugger: _strategy_connected (a
// threading.Condition) plus the _da_connected/_configuration_done event
// pair the with_strategy context manager waits on.
//
// In this port the engine-side strategy plugin is the external
// collaborator named in spec.md §6.7; nothing here drives real task
// iteration. What IS ported is the synchronization primitive itself: once
// the debuggee's transport has a connected adapter, a strategy's startup
// blocks on ConfigurationDone before it is allowed to proceed, the
// wait-for-client gate SPEC_FULL.md PART E.2 describes: breakpoints the
// client sets before ConfigurationDone are in place before the first task
// runs.
type StrategyBridge struct {
	mu   sync.Mutex
	cond *sync.Cond

	active      bool
	transportUp bool
	configDone  bool
}

// NewStrategyBridge constructs an unarmed bridge: no transport connected,
// no strategy registered, configuration not done.
func NewStrategyBridge() *StrategyBridge {
	b := &StrategyBridge{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// TransportConnected records that the adapter has connected over the
// debuggee's transport (mpqueue.Handler.ConnectionMade), mirroring
// _da_connected.set().
func (b *StrategyBridge) TransportConnected() {
	b.mu.Lock()
	b.transportUp = true
	b.mu.Unlock()
}

// ConfigurationDone records that the client's ConfigurationDoneRequest has
// arrived, releasing any Enter call currently blocked on it.
func (b *StrategyBridge) ConfigurationDone() {
	b.mu.Lock()
	b.configDone = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Enter registers a strategy's startup with the bridge (with_strategy's
// entry), blocking until ConfigurationDone arrives when waitForClient is
// true and the transport is already up -- exactly the case the original
// guards with "if self._da_connected.is_set(): self._configuration_done.wait()".
// If the transport never connects, or waitForClient is false, Enter
// returns immediately. The returned release func must be called once the
// strategy's run ends (with_strategy's finally block), after which a new
// strategy may Enter.
func (b *StrategyBridge) Enter(waitForClient bool) (release func(), err error) {
	b.mu.Lock()
	if b.active {
		b.mu.Unlock()
		return nil, errStrategyAlreadyRegistered
	}
	b.active = true
	transportUp := b.transportUp
	b.mu.Unlock()
	b.cond.Broadcast()

	if waitForClient && transportUp {
		b.mu.Lock()
		for !b.configDone {
			b.cond.Wait()
		}
		b.mu.Unlock()
	}

	return func() {
		b.mu.Lock()
		b.active = false
		b.mu.Unlock()
		b.cond.Broadcast()
	}, nil
}

var errStrategyAlreadyRegistered = errors.New("controller: strategy has already been registered")
