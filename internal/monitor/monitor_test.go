package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		match    bool
		severity Severity
	}{
		{"plain error", "ERROR: connection refused", true, SeverityError},
		{"lowercase error", "error: cannot find package", true, SeverityError},
		{"failed", "build failed with 3 issues", true, SeverityError},
		{"panic", "panic: runtime error: index out of range", true, SeverityFatal},
		{"fatal", "FATAL could not open database", true, SeverityFatal},
		{"warning", "warning: unused variable x", true, SeverityWarning},
		{"info line", "server listening on :8080", false, ""},
		{"empty", "   ", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := ParseLine(tt.line, "app.log")
			if ok != tt.match {
				t.Fatalf("ParseLine(%q) matched = %v, want %v", tt.line, ok, tt.match)
			}
			if !ok {
				return
			}
			if info.Severity != tt.severity {
				t.Errorf("Severity = %s, want %s", info.Severity, tt.severity)
			}
			if info.Source != "app.log" {
				t.Errorf("Source = %q, want app.log", info.Source)
			}
		})
	}
}

func TestParseLineSourceRef(t *testing.T) {
	info, ok := ParseLine("main.go:42: error: undefined: foo", "build.log")
	if !ok {
		t.Fatal("expected match")
	}
	if info.FilePath != "main.go" {
		t.Errorf("FilePath = %q, want main.go", info.FilePath)
	}
	if info.LineNumber != 42 {
		t.Errorf("LineNumber = %d, want 42", info.LineNumber)
	}
}

func TestSeverityWeight(t *testing.T) {
	if SeverityFatal.Weight() <= SeverityError.Weight() {
		t.Error("fatal should outweigh error")
	}
	if SeverityError.Weight() <= SeverityWarning.Weight() {
		t.Error("error should outweigh warning")
	}
}

func TestMonitorDetectsAppendedErrors(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	if err := os.WriteFile(logPath, []byte("old error: ignored\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := New([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("all good here\nERROR: disk full\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	select {
	case info := <-m.Errors():
		if info.Severity != SeverityError {
			t.Errorf("Severity = %s, want error", info.Severity)
		}
		if info.Message != "ERROR: disk full" {
			t.Errorf("Message = %q, want the appended error line", info.Message)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no error detected")
	}
}

func TestMonitorNewFile(t *testing.T) {
	dir := t.TempDir()

	m, err := New([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	logPath := filepath.Join(dir, "fresh.log")
	if err := os.WriteFile(logPath, []byte("panic: nil map write\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case info := <-m.Errors():
		if info.Severity != SeverityFatal {
			t.Errorf("Severity = %s, want fatal", info.Severity)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no error detected from new file")
	}
}

func TestCloseEndsRun(t *testing.T) {
	dir := t.TempDir()

	m, err := New([]string{dir})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	if _, ok := <-m.Errors(); ok {
		t.Error("error stream still open after Run returned")
	}
}

func TestDrainAfterClose(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	if err := os.WriteFile(logPath, nil, 0644); err != nil {
		t.Fatal(err)
	}

	m, err := New([]string{logPath})
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(logPath, []byte("ERROR: write racing shutdown\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	// The stream stays open until Run returns, so a drain that lost the
	// race with Close must not panic and still delivers its line.
	m.drain(logPath)

	select {
	case info := <-m.Errors():
		if info.Message != "ERROR: write racing shutdown" {
			t.Errorf("Message = %q, want the appended error line", info.Message)
		}
	default:
		t.Fatal("expected the drained line on the stream")
	}
}

func TestMonitorMissingPath(t *testing.T) {
	if _, err := New([]string{"/nonexistent/path"}); err == nil {
		t.Error("New() with missing path: want error")
	}
}
