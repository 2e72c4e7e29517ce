package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoader(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		check   func(t *testing.T, secret, driver string, servers int)
	}{
		{
			name: "defaults kept",
			body: "tokens:\n  secret: abc\n",
			check: func(t *testing.T, secret, driver string, servers int) {
				assert.Equal(t, "abc", secret)
				assert.Equal(t, "memory", driver)
				assert.Zero(t, servers)
			},
		},
		{
			name: "execution servers",
			body: "tokens:\n  secret: abc\nexecutionservers:\n  Cloud:\n    mode: remote\n",
			check: func(t *testing.T, _, _ string, servers int) {
				assert.Equal(t, 1, servers)
			},
		},
		{
			name:    "local server missing params",
			body:    "tokens:\n  secret: abc\nexecutionservers:\n  kd:\n    hostname: h\n",
			wantErr: "local mode requires",
		},
		{
			name:    "unknown driver",
			body:    "tokens:\n  secret: abc\nstore:\n  driver: couch\n",
			wantErr: "not supported",
		},
		{
			name:    "malformed yaml",
			body:    "tokens: [",
			wantErr: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			cfg, err := NewFileLoader(path).Load(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg.Tokens.Secret, cfg.Store.Driver, len(cfg.ExecutionServers))
		})
	}
}

func TestFileLoaderMissingFile(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
