package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NIRALUser/clusterpost/internal/app/delegation"
	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

const testConfig = `
tokens:
  secret: clusterctl-secret
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

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clusterpost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", path}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func verifier(t *testing.T) *delegation.Service {
	t.Helper()
	reg, err := executionserver.NewRegistry([]executionserver.Config{
		{Key: "cloud", Mode: executionserver.ModeRemote},
	})
	require.NoError(t, err)
	svc, err := delegation.NewService(delegation.Config{Secret: []byte("clusterctl-secret")}, reg)
	require.NoError(t, err)
	return svc
}

func TestServersCommand(t *testing.T) {
	out, err := execute(t, "servers")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "cloud")
	assert.Contains(t, out, "clusterpost@kd.example.edu")
	assert.Contains(t, out, "week,day")
}

func TestTokenServerCommand(t *testing.T) {
	out, err := execute(t, "token", "server", "cloud")
	require.NoError(t, err)

	var tok delegation.ServerToken
	require.NoError(t, json.Unmarshal([]byte(out), &tok))
	assert.Equal(t, "cloud", tok.ExecutionServer)

	claims, err := verifier(t).Verify(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, delegation.KindServer, claims.Kind())
	assert.Equal(t, "cloud", claims.ExecutionServer)
}

func TestTokenServerUnknown(t *testing.T) {
	_, err := execute(t, "token", "server", "mars")
	require.Error(t, err)
	assert.ErrorIs(t, err, executionserver.ErrServerNotFound)
}

func TestTokenUserCommand(t *testing.T) {
	out, err := execute(t, "token", "user", "root@example.org", "--scope", "clusterpost,admin", "--ttl", "1h")
	require.NoError(t, err)

	var tok delegation.Token
	require.NoError(t, json.Unmarshal([]byte(out), &tok))

	claims, err := verifier(t).Verify(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "root@example.org", claims.Email)
	assert.Equal(t, []string{jobs.ScopeClusterpost, jobs.ScopeAdmin}, claims.Scope)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestMigrateNeedsPostgres(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}
