package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToRemoteLongestPrefix(t *testing.T) {
	m := New([]Mapping{
		{LocalRoot: "/home/user/project", RemoteRoot: "/srv/project"},
		{LocalRoot: "/home/user/project/sub", RemoteRoot: "/srv/sub-override"},
	})

	assert.Equal(t, "/srv/sub-override/main.yml", m.ToRemote("/home/user/project/sub/main.yml"))
	assert.Equal(t, "/srv/project/main.yml", m.ToRemote("/home/user/project/main.yml"))
}

func TestToLocalRoundTrips(t *testing.T) {
	m := New([]Mapping{{LocalRoot: "/home/user/project", RemoteRoot: "/srv/project"}})

	local := "/home/user/project/roles/foo/tasks/main.yml"
	remote := m.ToRemote(local)
	assert.Equal(t, local, m.ToLocal(remote))
}

func TestNoMappingIsIdentity(t *testing.T) {
	m := New(nil)
	assert.Equal(t, "/anything", m.ToRemote("/anything"))
	assert.Equal(t, "/anything", m.ToLocal("/anything"))
}
