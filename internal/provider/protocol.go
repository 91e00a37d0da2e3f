// Package provider wraps the external text-generation capability. Providers
// speak OpenAI- or Ollama-compatible HTTP APIs; the pipeline only sees the
// Completer interface.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Completer is the one capability the generator needs: prompt in, text out,
// possibly failing. Implementations must honor ctx cancellation and
// deadlines.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TransportError marks a provider call that failed in transit (network
// error, timeout, bad status). Transport failures are retryable and count
// against the generator's attempt budget; they are never quality failures.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s: transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ChatMessage represents a message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
