// Package dap implements the wire codec for the Debug Adapter Protocol:
// Content-Length framing, sequence-number invariants, and polymorphic
// encode/decode of DAP messages keyed by (type, command|event).
package dap

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap these with errors.Wrap/Wrapf at call sites that
// need to add context; test with errors.Is against the sentinel.
var (
	ErrMissingContentLength = errors.New("dap: missing Content-Length header")
	ErrOutOfSequence        = errors.New("dap: message out of sequence")
	ErrUnknownMessage       = errors.New("dap: unknown message")
	ErrMalformedJSON        = errors.New("dap: malformed json body")
	ErrMalformedField       = errors.New("dap: malformed or missing field")

	// ErrIncomplete is not a protocol error: it signals the decoder's
	// buffer does not yet hold a complete frame. Callers feed more bytes
	// and call Next again.
	ErrIncomplete = errors.New("dap: incomplete frame")
)

// OutOfSequenceError carries the expected and observed seq for diagnostics.
type OutOfSequenceError struct {
	Expected int
	Got      int
}

func (e *OutOfSequenceError) Error() string {
	return fmt.Sprintf("dap: out of sequence: expected seq %d, got %d", e.Expected, e.Got)
}

func (e *OutOfSequenceError) Unwrap() error { return ErrOutOfSequence }

// UnknownMessageError identifies which discriminator could not be resolved:
// Kind is "type", "request", "response", or "event"; ID is the offending
// value (e.g. an unrecognized command name).
type UnknownMessageError struct {
	Kind string
	ID   string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("dap: unknown %s %q", e.Kind, e.ID)
}

func (e *UnknownMessageError) Unwrap() error { return ErrUnknownMessage }

// MalformedFieldError names the offending wire field.
type MalformedFieldError struct {
	Field string
}

func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("dap: malformed field %q", e.Field)
}

func (e *MalformedFieldError) Unwrap() error { return ErrMalformedField }
