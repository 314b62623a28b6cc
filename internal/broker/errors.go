package broker

import "github.com/pkg/errors"

// Sentinel error kinds spec.md §7 names that originate in the broker
// itself (the remaining kinds — Cancelled, OutOfSequence, MalformedMessage,
// UnknownMessage — already live as sentinels in internal/dap and
// internal/socket and are wrapped here with errors.Wrap, not redeclared).
var (
	ErrDebuggeeDisconnected = errors.New("broker: debuggee disconnected")
	ErrConfig               = errors.New("broker: invalid launch/attach configuration")
	ErrTimeout              = errors.New("broker: timed out waiting for debuggee")
	ErrInternal             = errors.New("broker: internal error")
)
