package socket

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressTCP(t *testing.T) {
	addr, err := ParseAddress("tcp://127.0.0.1:34567")
	require.NoError(t, err)
	assert.Equal(t, NetworkTCP, addr.Network)
	assert.Equal(t, "127.0.0.1", addr.Host)
	assert.Equal(t, "34567", addr.Port)
}

func TestParseAddressTCPBindAll(t *testing.T) {
	addr, err := ParseAddress("tcp://:34567")
	require.NoError(t, err)
	assert.Equal(t, "", addr.Host)
	assert.Equal(t, "34567", addr.Port)
}

func TestParseAddressTCPIPv6(t *testing.T) {
	addr, err := ParseAddress("tcp://[::1]:34567")
	require.NoError(t, err)
	assert.Equal(t, "::1", addr.Host)
	assert.Equal(t, "34567", addr.Port)
}

func TestParseAddressUDSExplicit(t *testing.T) {
	addr, err := ParseAddress("uds:///tmp/x.sock")
	require.NoError(t, err)
	assert.Equal(t, NetworkUnix, addr.Network)
	assert.Equal(t, "/tmp/x.sock", addr.Path)
}

func TestParseAddressUDSAuto(t *testing.T) {
	addr, err := ParseAddress("uds://")
	require.NoError(t, err)
	assert.Equal(t, NetworkUnix, addr.Network)
	assert.True(t, strings.HasPrefix(addr.Path, tempDir()))
}
