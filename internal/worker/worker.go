// Package worker provides the bounded-context text-generation adapter.
// The extraction pipeline treats a worker as a black-box function from
// (prompt, parameters) to text; all extraction logic lives upstream.
// Implementations must be safe for concurrent calls up to the controller's
// concurrency ceiling and own their connection pooling internally.
package worker

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies worker failures. Transient kinds are retried against the
// field's attempt budget; fatal ones abort the whole run, since retrying
// cannot fix bad credentials or configuration.
type Kind string

const (
	KindTimeout     Kind = "worker_timeout"
	KindUnavailable Kind = "worker_unavailable"
	KindProtocol    Kind = "worker_protocol"
	KindFatal       Kind = "worker_fatal"
)

// Error is a classified worker failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified worker error.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure kind from err, or "" when err is not a
// worker error.
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// IsFatal reports whether err is a worker failure that cannot succeed by
// retrying.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// Request is one bounded-context generation call.
type Request struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Response carries the generated text and the identity of the model that
// produced it. Truncated generations are reported through Truncated rather
// than silently shortened output.
type Response struct {
	Text      string
	Model     string
	Truncated bool
}

// Worker is the uniform call contract to a text generator.
type Worker interface {
	// Generate produces text for the request, honoring ctx cancellation.
	Generate(ctx context.Context, req Request) (Response, error)

	// Model identifies the backing model; it feeds the extraction cache
	// key, so it must be stable for a given deployment.
	Model() string
}
