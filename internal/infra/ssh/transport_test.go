package ssh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	a := m.Called(ctx, name, args)
	return a.Get(0).(Output), a.Error(1)
}

var localServer = executionserver.Config{
	Key:          "killdevil",
	Mode:         executionserver.ModeLocal,
	Host:         "kd.example.edu",
	User:         "clusterpost",
	IdentityFile: "/keys/id_rsa",
	SourceDir:    "/opt/clusterpost",
}

func newTestTransport(r Runner) *Transport {
	return NewTransport(logger.Noop(), noop.NewTracerProvider().Tracer("test"), WithRunner(r))
}

func TestAgentArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"node", "/opt/clusterpost/index.js", "-j", "j1", "--submit", "-f"},
		AgentArgs(localServer, "j1", "--submit", true),
	)
	assert.Equal(t,
		[]string{"node", "/opt/clusterpost/index.js", "-j", "j1", "--status"},
		AgentArgs(localServer, "j1", "--status", false),
	)
}

func TestExecBuildsSSHCommand(t *testing.T) {
	r := new(mockRunner)
	want := []string{"-q", "-i", "/keys/id_rsa", "clusterpost@kd.example.edu", "node", "/opt/clusterpost/index.js", "-j", "j1", "--kill"}
	r.On("Run", mock.Anything, "ssh", want).Return(Output{Stdout: "killed"}, nil).Once()

	out, err := newTestTransport(r).Exec(context.Background(), localServer, AgentArgs(localServer, "j1", "--kill", false)...)
	require.NoError(t, err)
	assert.Equal(t, "killed", out.Stdout)
	r.AssertExpectations(t)
}

func TestCopyFailurePolicy(t *testing.T) {
	tests := []struct {
		name    string
		out     Output
		wantErr bool
	}{
		{name: "clean", out: Output{}},
		{name: "nonzero_without_stderr", out: Output{ExitCode: 1}},
		{name: "stderr_with_zero_exit", out: Output{Stderr: "warning"}},
		{name: "nonzero_with_stderr", out: Output{ExitCode: 1, Stderr: "permission denied"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(mockRunner)
			r.On("Run", mock.Anything, "scp",
				[]string{"-i", "/keys/id_rsa", "/tmp/.killdevil", "clusterpost@kd.example.edu:/opt/clusterpost/.token"},
			).Return(tt.out, nil).Once()

			err := newTestTransport(r).Copy(context.Background(), localServer, "/tmp/.killdevil", "/opt/clusterpost/.token")
			if tt.wantErr {
				assert.ErrorContains(t, err, "permission denied")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecRunnerCapturesStreamsAndExitCode(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", out.Stdout)
	assert.Equal(t, "err\n", out.Stderr)
	assert.Equal(t, 3, out.ExitCode)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "/nonexistent/ssh-binary")
	assert.Error(t, err)
}

func TestExecRunnerTimeoutWithOrphanedPipes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The backgrounded sleep inherits stdout and outlives the killed shell.
	start := time.Now()
	_, err := ExecRunner{WaitDelay: 200 * time.Millisecond}.Run(ctx, "sh", "-c", "sleep 30 & sleep 30")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
