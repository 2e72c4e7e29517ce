// Package ssh drives execution servers through the system ssh and scp clients.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"
)

// Output is what a finished child process produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner starts a child process and blocks until it exits. A non-zero exit
// code is reported through Output, not as an error; errors mean the process
// could not be started or was cut short by the context.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// DefaultWaitDelay is how long a cancelled command may keep its output pipes
// open, e.g. through a backgrounded grandchild, before they are closed.
const DefaultWaitDelay = 5 * time.Second

// ExecRunner runs commands with os/exec, streaming stdout and stderr into
// buffers as the process writes them.
type ExecRunner struct {
	// WaitDelay overrides DefaultWaitDelay when positive.
	WaitDelay time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	delay := r.WaitDelay
	if delay <= 0 {
		delay = DefaultWaitDelay
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = delay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Output{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Output{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("starting %s: %w", name, err)
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return drain(&outBuf, stdout) })
	g.Go(func() error { return drain(&errBuf, stderr) })

	done := make(chan struct{})
	go closeAfterCancel(ctx, done, delay, stdout, stderr)

	// Pipes must be fully read before Wait closes them.
	readErr := g.Wait()
	close(done)
	waitErr := cmd.Wait()

	out := Output{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s interrupted: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return out, fmt.Errorf("waiting for %s: %w", name, waitErr)
	}
	if readErr != nil {
		return out, fmt.Errorf("reading %s output: %w", name, readErr)
	}

	return out, nil
}

// closeAfterCancel closes the read ends of the pipes once ctx has been done
// for delay, unblocking the drains when the killed process left them open.
func closeAfterCancel(ctx context.Context, done <-chan struct{}, delay time.Duration, pipes ...io.Closer) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		for _, p := range pipes {
			_ = p.Close()
		}
	}
}

func drain(dst *bytes.Buffer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
