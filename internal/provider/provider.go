// Package provider abstracts the AI assistant backend that task handlers
// delegate to. Requests are asynchronous: Send returns a request ID and
// the matching Response arrives later on the Responses channel.
package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds one backend invocation.
const DefaultTimeout = 10 * time.Minute

// Request is one prompt for the backend.
type Request struct {
	ID      string        // assigned by Send when empty
	Prompt  string
	WorkDir string        // working directory for execution
	Timeout time.Duration // 0 = DefaultTimeout
}

// Response is the outcome of one request.
type Response struct {
	RequestID string
	Text      string
	Err       error
	Duration  time.Duration
}

// Provider sends prompts to an assistant backend.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Send dispatches a request and returns its ID. The response is
	// delivered on Responses; Send itself only fails on dispatch errors.
	Send(ctx context.Context, req Request) (string, error)

	// Responses streams request outcomes. Closed by Close.
	Responses() <-chan Response

	// Close stops delivery and releases resources.
	Close() error
}

func requestID(req Request) string {
	if req.ID != "" {
		return req.ID
	}
	return uuid.NewString()
}
