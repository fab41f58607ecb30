// Package monitor watches log files for error output and turns matching
// lines into structured error reports. The daemon feeds these into the
// planner as error-fixing goals.
package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marcus/taskforge/internal/logging"
)

// Severity classifies a detected log line.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Weight maps severity to the numeric scale used for prioritization.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityFatal:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ErrorInfo is one detected error line.
type ErrorInfo struct {
	Message    string    // the full matched line
	Source     string    // log file the line came from
	FilePath   string    // source file referenced in the message, if any
	LineNumber int       // line number referenced in the message, if any
	Severity   Severity
	Timestamp  time.Time
}

var (
	fatalPattern   = regexp.MustCompile(`(?i)\b(fatal|panic)\b`)
	errorPattern   = regexp.MustCompile(`(?i)\berror\b|\bfailed\b|\bexception\b`)
	warningPattern = regexp.MustCompile(`(?i)\bwarn(ing)?\b`)

	// file.ext:123 style source references
	sourceRefPattern = regexp.MustCompile(`([\w./-]+\.\w+):(\d+)`)
)

// ParseLine classifies one log line. Returns false for lines that are
// not errors or warnings.
func ParseLine(line, source string) (ErrorInfo, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ErrorInfo{}, false
	}

	var severity Severity
	switch {
	case fatalPattern.MatchString(trimmed):
		severity = SeverityFatal
	case errorPattern.MatchString(trimmed):
		severity = SeverityError
	case warningPattern.MatchString(trimmed):
		severity = SeverityWarning
	default:
		return ErrorInfo{}, false
	}

	info := ErrorInfo{
		Message:   trimmed,
		Source:    source,
		Severity:  severity,
		Timestamp: time.Now(),
	}
	if ref := sourceRefPattern.FindStringSubmatch(trimmed); ref != nil {
		info.FilePath = ref[1]
		info.LineNumber, _ = strconv.Atoi(ref[2])
	}
	return info, true
}

// Monitor tails files under the watched paths and reports error lines.
type Monitor struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	events  chan ErrorInfo

	mu      sync.Mutex
	offsets map[string]int64 // per-file read position
}

// New creates a monitor watching the given files or directories.
// Only content appended after the watch starts is reported.
func New(paths []string) (*Monitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	m := &Monitor{
		watcher: watcher,
		logger:  logging.Component("monitor"),
		events:  make(chan ErrorInfo, 64),
		offsets: make(map[string]int64),
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch path %s: %w", path, err)
		}
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch path %s: %w", path, err)
		}
		if info.IsDir() {
			m.seedDir(path)
		} else {
			m.offsets[path] = info.Size()
		}
	}
	return m, nil
}

// seedDir records current sizes of existing files so only new content
// is reported.
func (m *Monitor) seedDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if info, err := entry.Info(); err == nil {
			m.offsets[path] = info.Size()
		}
	}
}

// Errors streams detected error lines.
func (m *Monitor) Errors() <-chan ErrorInfo {
	return m.events
}

// Run processes filesystem events until the context is cancelled or the
// watcher is closed. Run is the only sender on the error stream and
// closes it on return.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.events)
	m.logger.Info("monitor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				m.mu.Lock()
				m.offsets[event.Name] = 0
				m.mu.Unlock()
				m.drain(event.Name)
			case event.Op&fsnotify.Write == fsnotify.Write:
				m.drain(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Err(err).Msg("watcher error")
		}
	}
}

// drain reads new lines from a file and reports error matches.
func (m *Monitor) drain(path string) {
	m.mu.Lock()
	offset, tracked := m.offsets[path]
	m.mu.Unlock()
	if !tracked {
		offset = 0
	}

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	read := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Keep partial lines for the next write.
			break
		}
		read += int64(len(line))
		if info, ok := ParseLine(line, path); ok {
			select {
			case m.events <- info:
			default:
				m.logger.Warn("error event buffer full, dropping")
			}
		}
	}

	m.mu.Lock()
	m.offsets[path] = read
	m.mu.Unlock()
}

// Close stops the watcher, which makes Run drain, return, and close the
// error stream.
func (m *Monitor) Close() error {
	return m.watcher.Close()
}
