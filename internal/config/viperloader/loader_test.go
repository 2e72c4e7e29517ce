package viperloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
)

const sample = `
tokens:
  secret: from-file
store:
  driver: memory
dispatch:
  timeout: 30s
executionservers:
  killdevil:
    hostname: kd.example.edu
    user: clusterpost
    identityfile: /keys/id_rsa
    sourcedir: /opt/clusterpost
    queues: [week, day]
  cloud:
    mode: remote
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clusterpost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := New(writeConfig(t, sample)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Tokens.Secret)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, "0.0.0.0:8180", cfg.Web.APIHost, "defaults fill unset keys")
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Interval)

	servers, err := cfg.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "cloud", servers[0].Key)
	assert.Equal(t, executionserver.ModeRemote, servers[0].Mode)
	assert.Equal(t, "killdevil", servers[1].Key)
	assert.Equal(t, executionserver.ModeLocal, servers[1].Mode)
	assert.Equal(t, []string{"week", "day"}, servers[1].Queues)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CLUSTERPOST_TOKENS_SECRET", "from-env")
	t.Setenv("CLUSTERPOST_LOGGING_LEVEL", "debug")

	cfg, err := New(writeConfig(t, sample)).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Tokens.Secret)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMissingFileIsError(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, "store:\n  driver: postgres\n")).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokens.secret")
	assert.Contains(t, err.Error(), "store.dsn")
}
