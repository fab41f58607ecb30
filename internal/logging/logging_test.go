package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Path: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	l.Info("hello")

	data, err := os.ReadFile(l.currentLogPath())
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing message, got %q", string(data))
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestWithComponent(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Path: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	cl := l.WithComponent("orchestrator")
	cl.InfoCtx("task started", map[string]any{"task_id": "t-1"})

	data, err := os.ReadFile(l.currentLogPath())
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"component":"orchestrator"`) {
		t.Errorf("missing component field, got %q", out)
	}
	if !strings.Contains(out, `"task_id":"t-1"`) {
		t.Errorf("missing context field, got %q", out)
	}
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "taskforge-2020-01-01.log")
	if err := os.WriteFile(old, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	recent := filepath.Join(dir, "taskforge-"+time.Now().Format("2006-01-02")+".log")
	if err := os.WriteFile(recent, []byte("recent"), 0644); err != nil {
		t.Fatal(err)
	}

	l := &Logger{logDir: dir}
	l.cleanOldLogs(7)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old log file not removed")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Error("recent log file removed")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"INFO", false},
		{"warn", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		_, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
