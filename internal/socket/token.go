// Package socket implements the cancellable blocking-socket façade
// (spec.md §4.2): TCP (v4/v6) and Unix-domain sockets, TLS wrap, address
// parsing, and cooperative shutdown of in-flight operations.
//
// The source (original_source/src/ansibug/_socket_helper.py) cancels a
// blocking recv/send/accept/connect by calling shutdown(2) on the
// underlying fd from another thread. Go's net package already unblocks a
// pending Accept/Read/Write when the same net.Conn/net.Listener is closed
// concurrently, so this implementation follows spec.md §9's suggested
// alternative directly: register each operation's Closer with the token
// instead of re-implementing the shutdown trick.
package socket

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// ErrCancelled is returned by any registered operation once CancellationToken.Cancel has fired.
var ErrCancelled = errors.New("socket: operation cancelled")

// CancellationToken is a process-scoped value that every blocking socket
// operation on a connection registers itself with. Cancel forces every
// registered operation to unblock by closing its underlying Closer;
// operations distinguish a real peer close from cancellation by checking
// Cancelled() after their call returns an error. Cancel is idempotent.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
	nextID    int
	closers   map[int]io.Closer
}

func NewCancellationToken() *CancellationToken {
	return &CancellationToken{closers: make(map[int]io.Closer)}
}

// Cancelled reports whether Cancel has been called.
func (t *CancellationToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel unblocks every currently-registered operation and marks the token
// cancelled so future registrations fail fast.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	for id, c := range t.closers {
		_ = c.Close()
		delete(t.closers, id)
	}
}

// register adds c to the set of closers Cancel will close, returning a
// deregister function the caller must invoke (typically via defer) once
// the operation it guards has returned.
func (t *CancellationToken) register(c io.Closer) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return func() {}, ErrCancelled
	}
	id := t.nextID
	t.nextID++
	t.closers[id] = c
	return func() {
		t.mu.Lock()
		delete(t.closers, id)
		t.mu.Unlock()
	}, nil
}

// guard runs fn while c is registered with the token, translating any
// error returned after cancellation into ErrCancelled.
func (t *CancellationToken) guard(c io.Closer, fn func() error) error {
	deregister, err := t.register(c)
	if err != nil {
		return err
	}
	defer deregister()

	err = fn()
	if err != nil && t.Cancelled() {
		return ErrCancelled
	}
	return err
}
