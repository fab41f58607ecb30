package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/marcus/taskforge/internal/editor"
	"github.com/marcus/taskforge/internal/memory"
	"github.com/marcus/taskforge/internal/orchestrator"
	"github.com/marcus/taskforge/internal/provider"
	"github.com/marcus/taskforge/internal/tasks"
)

// taskPrompts maps task types to the prompt sent to the assistant backend.
var taskPrompts = map[tasks.Type]string{
	tasks.TypeAnalyzeErrors:      "Analyze the following errors and identify root causes:\n%s",
	tasks.TypeFixErrors:          "Fix the following errors. For each change emit an edit directive line (REPLACE/INSERT/DELETE path:line content):\n%s",
	tasks.TypeVerifyFixes:        "Verify that the fixes for the following problem hold and report remaining issues:\n%s",
	tasks.TypeDesignSolution:     "Design a solution for:\n%s",
	tasks.TypeImplementFeature:   "Implement the following, emitting edit directives where files change:\n%s",
	tasks.TypeTestImplementation: "Write and run tests covering:\n%s",
	tasks.TypeDocumentChanges:    "Document the changes made for:\n%s",
	tasks.TypeAnalyzeStructure:   "Analyze the code structure relevant to:\n%s",
	tasks.TypeRefactorCode:       "Refactor as described, emitting edit directives where files change:\n%s",
	tasks.TypeVerifyRefactor:     "Verify behavior is unchanged after refactoring for:\n%s",
	tasks.TypeAnalyzeRequest:     "Analyze this request and outline the steps to satisfy it:\n%s",
	tasks.TypeExecuteRequest:     "Carry out the following request:\n%s",
	tasks.TypeVerifyResult:       "Verify the result of the following request and summarize:\n%s",
}

// responseRouter correlates provider responses back to waiting handlers
// by request ID.
type responseRouter struct {
	prov provider.Provider

	mu      sync.Mutex
	waiters map[string]chan provider.Response
}

func newResponseRouter(prov provider.Provider) *responseRouter {
	r := &responseRouter{
		prov:    prov,
		waiters: make(map[string]chan provider.Response),
	}
	go r.route()
	return r
}

func (r *responseRouter) route() {
	for resp := range r.prov.Responses() {
		r.mu.Lock()
		ch, ok := r.waiters[resp.RequestID]
		delete(r.waiters, resp.RequestID)
		r.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// ask sends one request and blocks for its response or context cancellation.
func (r *responseRouter) ask(ctx context.Context, req provider.Request) (provider.Response, error) {
	req.ID = uuid.NewString()
	ch := make(chan provider.Response, 1)

	r.mu.Lock()
	r.waiters[req.ID] = ch
	r.mu.Unlock()

	if _, err := r.prov.Send(ctx, req); err != nil {
		r.mu.Lock()
		delete(r.waiters, req.ID)
		r.mu.Unlock()
		return provider.Response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, req.ID)
		r.mu.Unlock()
		return provider.Response{}, ctx.Err()
	}
}

// registerHandlers binds every known task type to a provider-backed
// handler. Fix-type tasks apply edit directives from the response and
// record successful solutions in memory.
func registerHandlers(o *orchestrator.Orchestrator, prov provider.Provider, mem *memory.Store) {
	router := newResponseRouter(prov)

	for taskType, template := range taskPrompts {
		taskType, template := taskType, template
		o.RegisterHandler(taskType, func(ctx context.Context, task *tasks.Task) (string, error) {
			resp, err := router.ask(ctx, provider.Request{
				Prompt:  fmt.Sprintf(template, task.Description),
				Timeout: task.Timeout,
			})
			if err != nil {
				return "", err
			}
			if resp.Err != nil {
				return "", resp.Err
			}

			if taskType == tasks.TypeFixErrors || taskType == tasks.TypeRefactorCode || taskType == tasks.TypeImplementFeature {
				if err := applyEditDirectives(resp.Text); err != nil {
					return "", err
				}
			}
			if taskType == tasks.TypeFixErrors && mem != nil {
				_ = mem.StoreSolution(task.Description, resp.Text, 0.7)
			}
			return resp.Text, nil
		})
	}
}

// applyEditDirectives scans a response for edit directive lines and
// applies them. Directive format, one per line:
//
//	REPLACE path:line content
//	INSERT  path:line content
//	DELETE  path:line
//
// Lines that are not directives are ignored.
func applyEditDirectives(text string) error {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		op := fields[0]
		if op != "REPLACE" && op != "INSERT" && op != "DELETE" {
			continue
		}

		path, lineNo, ok := splitRef(fields[1])
		if !ok {
			return fmt.Errorf("bad edit directive: %q", line)
		}
		content := ""
		if idx := strings.Index(line, fields[1]); idx != -1 {
			content = strings.TrimPrefix(line[idx+len(fields[1]):], " ")
		}

		var err error
		switch op {
		case "REPLACE":
			err = editor.ReplaceLine(path, lineNo, content)
		case "INSERT":
			err = editor.InsertLine(path, lineNo, content)
		case "DELETE":
			err = editor.DeleteLine(path, lineNo)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", op, err)
		}
	}
	return nil
}

// splitRef parses a path:line reference.
func splitRef(ref string) (string, int, bool) {
	idx := strings.LastIndex(ref, ":")
	if idx <= 0 || idx == len(ref)-1 {
		return "", 0, false
	}
	lineNo, err := strconv.Atoi(ref[idx+1:])
	if err != nil || lineNo < 1 {
		return "", 0, false
	}
	return ref[:idx], lineNo, true
}
