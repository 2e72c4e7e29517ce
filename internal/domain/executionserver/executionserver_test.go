package executionserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfigs() []Config {
	return []Config{
		{Key: "killdevil", Mode: ModeLocal, Host: "kd.example.edu", User: "clusterpost", IdentityFile: "/keys/id_rsa", SourceDir: "/opt/clusterpost", Queues: []string{"week", "day"}},
		{Key: "cloud", Mode: ModeRemote},
	}
}

func TestRegistryResolve(t *testing.T) {
	reg, err := NewRegistry(testConfigs())
	require.NoError(t, err)

	c, err := reg.Resolve("killdevil")
	require.NoError(t, err)
	assert.Equal(t, "clusterpost@kd.example.edu", c.Address())
	assert.False(t, c.IsRemote())

	_, err = reg.Resolve("missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestRegistryListAllSorted(t *testing.T) {
	reg, err := NewRegistry(testConfigs())
	require.NoError(t, err)

	infos := reg.ListAll()
	require.Len(t, infos, 2)
	assert.Equal(t, Info{Key: "cloud", Mode: ModeRemote}, infos[0])
	assert.Equal(t, []string{"week", "day"}, infos[1].Queues)

	remote := reg.Remote()
	require.Len(t, remote, 1)
	assert.Equal(t, "cloud", remote[0].Key)
}

func TestRegistryRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		configs []Config
	}{
		{name: "empty_key", configs: []Config{{Mode: ModeRemote}}},
		{name: "duplicate", configs: []Config{{Key: "a", Mode: ModeRemote}, {Key: "a", Mode: ModeRemote}}},
		{name: "local_missing_host", configs: []Config{{Key: "a", Mode: ModeLocal, User: "u", IdentityFile: "k", SourceDir: "/s"}}},
		{name: "unknown_mode", configs: []Config{{Key: "a", Mode: "ftp"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.configs)
			assert.Error(t, err)
		})
	}
}
