package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// mockRunner returns a fixed result and records the invocation.
type mockRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error

	gotName string
	gotArgs []string
	gotDir  string
}

func (m *mockRunner) Run(ctx context.Context, name string, args []string, dir string, stdin string) (string, string, int, error) {
	m.gotName = name
	m.gotArgs = args
	m.gotDir = dir
	return m.stdout, m.stderr, m.exitCode, m.err
}

func receive(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no response received")
		return Response{}
	}
}

func TestCLISend(t *testing.T) {
	runner := &mockRunner{stdout: "analysis complete\n"}
	c := NewCLI(WithBinary("assistant", "--print"), WithRunner(runner))

	id, err := c.Send(context.Background(), Request{Prompt: "analyze the build errors", WorkDir: "/tmp/work"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id == "" {
		t.Error("Send() returned empty request ID")
	}

	resp := receive(t, c.Responses())
	if resp.RequestID != id {
		t.Errorf("RequestID = %q, want %q", resp.RequestID, id)
	}
	if resp.Text != "analysis complete" {
		t.Errorf("Text = %q, want trimmed stdout", resp.Text)
	}
	if resp.Err != nil {
		t.Errorf("Err = %v, want nil", resp.Err)
	}

	if runner.gotName != "assistant" {
		t.Errorf("binary = %q, want assistant", runner.gotName)
	}
	if len(runner.gotArgs) != 2 || runner.gotArgs[1] != "analyze the build errors" {
		t.Errorf("args = %v, want [--print <prompt>]", runner.gotArgs)
	}
	if runner.gotDir != "/tmp/work" {
		t.Errorf("dir = %q, want /tmp/work", runner.gotDir)
	}
}

func TestCLISendEmptyPrompt(t *testing.T) {
	c := NewCLI(WithRunner(&mockRunner{}))
	if _, err := c.Send(context.Background(), Request{}); err == nil {
		t.Error("Send() with empty prompt: want error")
	}
}

func TestCLIExitCodeError(t *testing.T) {
	runner := &mockRunner{stderr: "rate limited", exitCode: 2}
	c := NewCLI(WithRunner(runner))

	if _, err := c.Send(context.Background(), Request{Prompt: "hello"}); err != nil {
		t.Fatal(err)
	}
	resp := receive(t, c.Responses())
	if resp.Err == nil || !strings.Contains(resp.Err.Error(), "rate limited") {
		t.Errorf("Err = %v, want stderr included", resp.Err)
	}
}

func TestCLIRunnerError(t *testing.T) {
	runner := &mockRunner{err: errors.New("binary not found"), exitCode: -1}
	c := NewCLI(WithRunner(runner))

	if _, err := c.Send(context.Background(), Request{Prompt: "hello"}); err != nil {
		t.Fatal(err)
	}
	resp := receive(t, c.Responses())
	if resp.Err == nil {
		t.Error("Err = nil, want runner error")
	}
}

func TestCLIClose(t *testing.T) {
	c := NewCLI(WithRunner(&mockRunner{stdout: "ok"}))
	if _, err := c.Send(context.Background(), Request{Prompt: "hello"}); err != nil {
		t.Fatal(err)
	}
	receive(t, c.Responses())

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, open := <-c.Responses(); open {
		t.Error("Responses() still open after Close")
	}
}

func TestScriptedReplaysInOrder(t *testing.T) {
	s := NewScripted(
		Response{Text: "first"},
		Response{Err: errors.New("second fails")},
	)

	id1, err := s.Send(context.Background(), Request{Prompt: "a"})
	if err != nil {
		t.Fatal(err)
	}
	resp := receive(t, s.Responses())
	if resp.RequestID != id1 || resp.Text != "first" {
		t.Errorf("first response = %+v", resp)
	}

	if _, err := s.Send(context.Background(), Request{Prompt: "b"}); err != nil {
		t.Fatal(err)
	}
	resp = receive(t, s.Responses())
	if resp.Err == nil {
		t.Error("second response: want scripted error")
	}

	// Past the script, prompts echo back.
	if _, err := s.Send(context.Background(), Request{Prompt: "echo me"}); err != nil {
		t.Fatal(err)
	}
	resp = receive(t, s.Responses())
	if resp.Text != "echo me" {
		t.Errorf("exhausted script response = %q, want echo", resp.Text)
	}
}

func TestRequestIDPreserved(t *testing.T) {
	s := NewScripted()
	id, err := s.Send(context.Background(), Request{ID: "req-42", Prompt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "req-42" {
		t.Errorf("Send() = %q, want caller-supplied ID kept", id)
	}
}
