package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// CommandRunner executes shell commands. Allows mocking in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, dir string, stdin string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner is the default CommandRunner using os/exec.
type ExecRunner struct{}

// Run executes a command and returns output.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, dir string, stdin string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	err := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, err
}

// CLI runs prompts through a local assistant command-line binary.
type CLI struct {
	name    string
	binary  string
	args    []string
	timeout time.Duration
	runner  CommandRunner

	responses chan Response
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// CLIOption configures a CLI provider.
type CLIOption func(*CLI)

// WithBinary sets the backend binary and its fixed leading arguments.
func WithBinary(path string, args ...string) CLIOption {
	return func(c *CLI) {
		c.binary = path
		c.args = args
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) CLIOption {
	return func(c *CLI) {
		c.timeout = d
	}
}

// WithRunner sets a custom command runner (for testing).
func WithRunner(r CommandRunner) CLIOption {
	return func(c *CLI) {
		c.runner = r
	}
}

// NewCLI creates a CLI provider. The default backend is the "claude"
// binary in print mode.
func NewCLI(opts ...CLIOption) *CLI {
	c := &CLI{
		name:      "cli",
		binary:    "claude",
		args:      []string{"--print"},
		timeout:   DefaultTimeout,
		runner:    &ExecRunner{},
		responses: make(chan Response, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider identifier.
func (c *CLI) Name() string {
	return c.name
}

// Send dispatches the prompt to the backend binary in a goroutine.
func (c *CLI) Send(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	id := requestID(req)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		start := time.Now()

		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		args := append(append([]string{}, c.args...), req.Prompt)
		stdout, stderr, exitCode, err := c.runner.Run(rctx, c.binary, args, req.WorkDir, "")

		resp := Response{
			RequestID: id,
			Text:      strings.TrimSpace(stdout),
			Duration:  time.Since(start),
		}
		switch {
		case rctx.Err() != nil:
			resp.Err = fmt.Errorf("%s: %w", c.binary, rctx.Err())
		case err != nil:
			resp.Err = fmt.Errorf("%s: %w: %s", c.binary, err, strings.TrimSpace(stderr))
		case exitCode != 0:
			resp.Err = fmt.Errorf("%s exited %d: %s", c.binary, exitCode, strings.TrimSpace(stderr))
		}
		c.responses <- resp
	}()

	return id, nil
}

// Responses streams request outcomes.
func (c *CLI) Responses() <-chan Response {
	return c.responses
}

// Close waits for in-flight requests and closes the response channel.
func (c *CLI) Close() error {
	c.closeOnce.Do(func() {
		c.wg.Wait()
		close(c.responses)
	})
	return nil
}
