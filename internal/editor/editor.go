// Package editor provides line-level file operations for fix handlers.
// Lines are 1-based. Writes preserve the file's permissions and rewrite
// the whole file; these are small source files, not logs.
package editor

import (
	"fmt"
	"os"
	"strings"
)

// ReadLine returns the given 1-based line without its newline.
func ReadLine(path string, line int) (string, error) {
	lines, _, err := readLines(path)
	if err != nil {
		return "", err
	}
	if line < 1 || line > len(lines) {
		return "", fmt.Errorf("%s: line %d out of range (1-%d)", path, line, len(lines))
	}
	return lines[line-1], nil
}

// ReplaceLine overwrites the given 1-based line.
func ReplaceLine(path string, line int, content string) error {
	lines, mode, err := readLines(path)
	if err != nil {
		return err
	}
	if line < 1 || line > len(lines) {
		return fmt.Errorf("%s: line %d out of range (1-%d)", path, line, len(lines))
	}
	lines[line-1] = content
	return writeLines(path, lines, mode)
}

// InsertLine inserts content before the given 1-based line. Line
// len+1 appends at the end of the file.
func InsertLine(path string, line int, content string) error {
	lines, mode, err := readLines(path)
	if err != nil {
		return err
	}
	if line < 1 || line > len(lines)+1 {
		return fmt.Errorf("%s: line %d out of range (1-%d)", path, line, len(lines)+1)
	}
	lines = append(lines[:line-1], append([]string{content}, lines[line-1:]...)...)
	return writeLines(path, lines, mode)
}

// DeleteLine removes the given 1-based line.
func DeleteLine(path string, line int) error {
	lines, mode, err := readLines(path)
	if err != nil {
		return err
	}
	if line < 1 || line > len(lines) {
		return fmt.Errorf("%s: line %d out of range (1-%d)", path, line, len(lines))
	}
	lines = append(lines[:line-1], lines[line:]...)
	return writeLines(path, lines, mode)
}

// Function is an extracted function body with its location.
type Function struct {
	StartLine int // 1-based, the line containing the opening brace
	EndLine   int // 1-based, the line containing the closing brace
	Text      string
}

// FunctionAt extracts the function enclosing the given 1-based line in
// brace-delimited source. Returns an error when the line is not inside
// a function.
func FunctionAt(path string, line int) (Function, error) {
	lines, _, err := readLines(path)
	if err != nil {
		return Function{}, err
	}
	if line < 1 || line > len(lines) {
		return Function{}, fmt.Errorf("%s: line %d out of range (1-%d)", path, line, len(lines))
	}

	// Scan backwards for a top-level function opener.
	start := -1
	for i := line - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "func ") || strings.HasPrefix(trimmed, "func(") {
			start = i
			break
		}
		// A closing brace in column zero means we left the previous function.
		if i < line-1 && strings.HasPrefix(lines[i], "}") {
			break
		}
	}
	if start == -1 {
		return Function{}, fmt.Errorf("%s:%d: not inside a function", path, line)
	}

	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth == 0 {
			if line-1 > i {
				return Function{}, fmt.Errorf("%s:%d: not inside a function", path, line)
			}
			return Function{
				StartLine: start + 1,
				EndLine:   i + 1,
				Text:      strings.Join(lines[start:i+1], "\n"),
			}, nil
		}
	}
	return Function{}, fmt.Errorf("%s: unbalanced braces from line %d", path, start+1)
}

func readLines(path string) ([]string, os.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return []string{}, info.Mode(), nil
	}
	return strings.Split(content, "\n"), info.Mode(), nil
}

func writeLines(path string, lines []string, mode os.FileMode) error {
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), mode)
}
