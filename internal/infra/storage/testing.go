package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	testImage = "postgres:17-alpine"
	testDB    = "clusterpost"
	testUser  = "clusterpost"
	testPass  = "clusterpost"
)

// MigrationsSource returns the file:// URL of the repository's db/migrations.
func MigrationsSource() string {
	_, currentFile, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(currentFile), "..", "..", "..")
	return "file://" + filepath.Join(root, "db", "migrations")
}

// SetupTestContainer starts a disposable postgres, applies the job store
// migrations and returns a pool plus a cleanup func.
func SetupTestContainer(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	ctx := context.Background()
	dsn := func(host, port string) string {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", testUser, testPass, host, port, testDB)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     testUser,
				"POSTGRES_PASSWORD": testPass,
				"POSTGRES_DB":       testDB,
			},
			WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
				return dsn(host, port.Port())
			}),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn(host, port.Port()))
	require.NoError(t, err)
	require.NoError(t, Migrate(pool, MigrationsSource(), Up))

	return pool, func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
}

func NoOpTracer() trace.Tracer { return noop.NewTracerProvider().Tracer("test") }
