// Package launch wraps the invocation of a debuggable ansible-playbook
// subprocess (spec.md §6.6), grounded on
// original_source/src/ansibug/_launch.py's launch(): the child inherits
// the parent's stdio and receives its debug configuration entirely
// through environment variables so ansible-playbook itself needs no
// command-line changes to become debuggable.
package launch

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// Mode is the debuggee connection mode injected via ANSIBUG_MODE.
type Mode string

const (
	ModeConnect Mode = "connect"
	ModeListen  Mode = "listen"
)

// Options configures a Playbook launch.
type Options struct {
	// Args are the arguments ansible-playbook is invoked with.
	Args []string

	// Mode selects whether the playbook process connects out to the
	// adapter or listens for it.
	Mode Mode

	// Addr is the address to connect or listen on, in internal/socket's
	// Address.String() form.
	Addr string

	// WaitForClient delays strategy startup until the client has sent
	// configurationDone.
	WaitForClient bool

	// WrapTLS and the fields below configure the debuggee's own listening
	// socket to require TLS (listen mode only); left zero for connect
	// mode, which dials out to an adapter that already decided its TLS
	// posture.
	WrapTLS     bool
	TLSCert     string
	TLSKey      string
	TLSKeyPass  string
	TLSClientCA string
}

// Playbook launches ansible-playbook with the given options, inheriting
// the current process's stdio, and blocks until it exits. It returns the
// child's exit code and a non-nil error only when the process could not
// be started or waited on at all (not merely a non-zero exit).
func Playbook(opts Options) (int, error) {
	cmd := exec.Command("ansible-playbook", opts.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = buildEnviron(os.Environ(), opts)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, errors.Wrap(err, "launch: run ansible-playbook")
	}
	return cmd.ProcessState.ExitCode(), nil
}

func buildEnviron(base []string, opts Options) []string {
	env := make([]string, len(base))
	copy(env, base)

	env = append(env,
		"ANSIBUG_MODE="+string(opts.Mode),
		"ANSIBUG_SOCKET_ADDR="+opts.Addr,
		"ANSIBUG_WAIT_FOR_CLIENT="+boolString(opts.WaitForClient),
		"ANSIBLE_STRATEGY=ansibug_strategy",
	)

	if opts.WrapTLS {
		env = append(env, "ANSIBUG_TLS=true")
		env = appendIfSet(env, "ANSIBUG_TLS_CERT", opts.TLSCert)
		env = appendIfSet(env, "ANSIBUG_TLS_KEY", opts.TLSKey)
		env = appendIfSet(env, "ANSIBUG_TLS_KEY_PASS", opts.TLSKeyPass)
		env = appendIfSet(env, "ANSIBUG_TLS_CLIENT_CA", opts.TLSClientCA)
	}

	return env
}

func appendIfSet(env []string, key, value string) []string {
	if value == "" {
		return env
	}
	return append(env, key+"="+value)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
