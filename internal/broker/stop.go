package broker

import (
	"github.com/hashicorp/go-multierror"
)

// stopAll closes whichever of the debuggee queue and client connection are
// still open, collecting every close error instead of only the first
// (SPEC_FULL.md PART B.2: go-multierror is reserved for exactly this kind
// of multi-resource teardown, mirroring internal/controller.Teardown's own
// drain-then-close sequence).
func stopAll(b *Broker) error {
	var result *multierror.Error

	b.emitTerminated()

	b.mu.Lock()
	q := b.debuggee
	b.mu.Unlock()

	if q != nil {
		if err := q.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := b.client.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
