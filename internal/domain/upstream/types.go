// Package upstream owns the forwarding port: delivering a canonical request
// to a provider endpoint and streaming canonical chunks back.
package upstream

import (
	"context"
	"fmt"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// TimeoutError is returned when the upstream misses a deadline, either
// connecting or between stream reads.
type TimeoutError struct {
	// ProviderName is the provider that timed out.
	ProviderName string
	// Err is the underlying transport error.
	Err error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream %s timed out: %v", e.ProviderName, e.Err)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error { return e.Err }

// StatusError is a non-success HTTP response from the upstream.
type StatusError struct {
	// ProviderName is the provider that answered.
	ProviderName string
	// StatusCode is the HTTP status.
	StatusCode int
	// Body is a truncated response body for diagnostics.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.ProviderName, e.StatusCode)
}

// Forwarder delivers a canonical request to a provider endpoint and emits
// the canonical chunks of the response in order, ending with exactly one
// terminal chunk. Interface owned by the domain per hexagonal architecture.
type Forwarder interface {
	// Forward sends the request and invokes emit for each response chunk.
	// A non-nil error from emit cancels the stream.
	Forward(ctx context.Context, provider mux.Provider, req *canon.Request, emit func(canon.Chunk) error) error
}
