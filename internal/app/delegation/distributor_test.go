package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/pkg/common"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

type fakeCopier struct {
	mu       sync.Mutex
	failures map[string]int
	copied   map[string]string
	payloads map[string][]byte
}

func (f *fakeCopier) Copy(_ context.Context, cfg executionserver.Config, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures[cfg.Key] > 0 {
		f.failures[cfg.Key]--
		return errors.New("scp: connection refused")
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.copied[cfg.Key] = remotePath
	f.payloads[cfg.Key] = data
	return nil
}

func newDistributorRegistry(t *testing.T) *executionserver.Registry {
	t.Helper()
	reg, err := executionserver.NewRegistry([]executionserver.Config{
		{Key: "es1", Mode: executionserver.ModeLocal, Host: "h1", User: "u", IdentityFile: "/k", SourceDir: "/opt/cp"},
		{Key: "es2", Mode: executionserver.ModeLocal, Host: "h2", User: "u", IdentityFile: "/k", SourceDir: "/srv/cp"},
		{Key: "cloud", Mode: executionserver.ModeRemote},
	})
	require.NoError(t, err)
	return reg
}

func TestDistributeInstallsTokensOnLocalServers(t *testing.T) {
	reg := newDistributorRegistry(t)
	svc, err := NewService(Config{Secret: []byte("s3cr3t")}, reg)
	require.NoError(t, err)

	copier := &fakeCopier{
		failures: map[string]int{"es2": 1},
		copied:   map[string]string{},
		payloads: map[string][]byte{},
	}
	tmp := t.TempDir()
	d := NewDistributor(svc, reg, copier, logger.Noop(), noop.NewTracerProvider().Tracer("test"),
		WithTempDir(tmp),
		WithRetry(common.RetryConfig{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}),
	)

	require.NoError(t, d.Distribute(context.Background()))

	assert.Equal(t, map[string]string{"es1": "/opt/cp/.token", "es2": "/srv/cp/.token"}, copier.copied)

	var tok Token
	require.NoError(t, json.Unmarshal(copier.payloads["es1"], &tok))
	claims, err := svc.Verify(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "es1", claims.ExecutionServer)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged token files must be removed")
}

func TestDistributeReportsFailuresWithoutStopping(t *testing.T) {
	reg := newDistributorRegistry(t)
	svc, err := NewService(Config{Secret: []byte("s3cr3t")}, reg)
	require.NoError(t, err)

	copier := &fakeCopier{
		failures: map[string]int{"es1": 1000},
		copied:   map[string]string{},
		payloads: map[string][]byte{},
	}
	tmp := t.TempDir()
	d := NewDistributor(svc, reg, copier, logger.Noop(), noop.NewTracerProvider().Tracer("test"),
		WithTempDir(tmp),
		WithRetry(common.RetryConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: 20 * time.Millisecond}),
	)

	err = d.Distribute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "es1")
	assert.Equal(t, "/srv/cp/.token", copier.copied["es2"])

	_, statErr := os.Stat(filepath.Join(tmp, ".es1"))
	assert.True(t, os.IsNotExist(statErr))
}
