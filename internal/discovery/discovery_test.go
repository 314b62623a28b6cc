package discovery

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRemove(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	info := Info{Address: "tcp://127.0.0.1:12345", UseTLS: true}
	require.NoError(t, Write(info))

	got, err := Read(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, info, got)

	require.NoError(t, Remove())

	_, err = Read(os.Getpid())
	assert.Error(t, err)
}

func TestReadMissingPid(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	_, err := Read(999999)
	assert.Error(t, err)
}
