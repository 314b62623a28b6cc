// Package broker implements the Debug Adapter broker (spec.md §4.4):
// the single-threaded dispatcher over three streams (client stdin,
// client stdout, and a socket to the debuggee) that owns the
// launch/attach state machine and the two-key request correlation
// table.
package broker

import "github.com/jborean93/ansibug/internal/pathmap"

// State is the broker-local state machine (spec.md §4.4 "State
// machine").
type State int

const (
	StateInit State = iota
	StateInitialized
	StateAttaching
	StateLaunching
	StateRunning
	StateDisconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateInitialized:
		return "initialized"
	case StateAttaching:
		return "attaching"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateDisconnecting:
		return "disconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// PathMappingArg is the wire shape of one {localRoot, remoteRoot} pair
// inside Attach/LaunchArguments.
type PathMappingArg struct {
	LocalRoot  string `json:"localRoot"`
	RemoteRoot string `json:"remoteRoot"`
}

func toMappings(args []PathMappingArg) []pathmap.Mapping {
	out := make([]pathmap.Mapping, len(args))
	for i, a := range args {
		out[i] = pathmap.Mapping{LocalRoot: a.LocalRoot, RemoteRoot: a.RemoteRoot}
	}
	return out
}

// AttachArguments is the custom shape of AttachRequest.Arguments
// (spec.md §4.4 Attach: "either {processId} or {address[, port]}, plus
// TLS settings and path-mappings").
type AttachArguments struct {
	ProcessID int    `json:"processId"`
	Address   string `json:"address"`
	Port      int    `json:"port"`

	UseTLS        bool             `json:"useTls"`
	TLSVerify     string           `json:"tlsVerify"`
	TLSClientCert string           `json:"tlsClientCert"`
	PathMappings  []PathMappingArg `json:"pathMappings"`
}

// LaunchArguments is the custom shape of LaunchRequest.Arguments
// (spec.md §4.4 Launch).
type LaunchArguments struct {
	PlaybookArgs          []string         `json:"playbookArgs"`
	WaitForClient         bool             `json:"waitForClient"`
	WrapTLS               bool             `json:"wrapTls"`
	TLSCert               string           `json:"tlsCert"`
	TLSKey                string           `json:"tlsKey"`
	TLSKeyPass            string           `json:"tlsKeyPass"`
	TLSClientCA           string           `json:"tlsClientCa"`
	PathMappings          []PathMappingArg `json:"pathMappings"`
	ConnectTimeoutSeconds int              `json:"connectTimeoutSeconds"`
}
