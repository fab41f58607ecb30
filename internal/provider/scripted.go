package provider

import (
	"context"
	"fmt"
	"sync"
)

// Scripted replays canned responses in order. Used in tests and dry runs
// where no real backend should be invoked.
type Scripted struct {
	mu        sync.Mutex
	script    []Response
	next      int
	responses chan Response
	closeOnce sync.Once
}

// NewScripted creates a provider that answers requests from the script.
// When the script runs out, requests echo their prompt back.
func NewScripted(script ...Response) *Scripted {
	return &Scripted{
		script:    script,
		responses: make(chan Response, 16),
	}
}

// Name returns the provider identifier.
func (s *Scripted) Name() string {
	return "scripted"
}

// Send answers immediately from the script.
func (s *Scripted) Send(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	id := requestID(req)

	s.mu.Lock()
	var resp Response
	if s.next < len(s.script) {
		resp = s.script[s.next]
		s.next++
	} else {
		resp = Response{Text: req.Prompt}
	}
	s.mu.Unlock()

	resp.RequestID = id
	s.responses <- resp
	return id, nil
}

// Responses streams request outcomes.
func (s *Scripted) Responses() <-chan Response {
	return s.responses
}

// Close closes the response channel.
func (s *Scripted) Close() error {
	s.closeOnce.Do(func() { close(s.responses) })
	return nil
}
