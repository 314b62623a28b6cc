package launch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildEnvironInjectsAnsibugVars(t *testing.T) {
	env := buildEnviron([]string{"PATH=/usr/bin"}, Options{
		Mode:          ModeListen,
		Addr:          "tcp://127.0.0.1:5679",
		WaitForClient: true,
	})

	assert.Contains(t, env, "PATH=/usr/bin")
	assert.Contains(t, env, "ANSIBUG_MODE=listen")
	assert.Contains(t, env, "ANSIBUG_SOCKET_ADDR=tcp://127.0.0.1:5679")
	assert.Contains(t, env, "ANSIBUG_WAIT_FOR_CLIENT=true")
	assert.Contains(t, env, "ANSIBLE_STRATEGY=ansibug_strategy")
}

func TestBuildEnvironWaitForClientFalse(t *testing.T) {
	env := buildEnviron(nil, Options{Mode: ModeConnect, Addr: "uds:///tmp/x", WaitForClient: false})
	assert.Contains(t, env, "ANSIBUG_WAIT_FOR_CLIENT=false")
}
