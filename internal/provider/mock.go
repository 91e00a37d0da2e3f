package provider

import (
	"context"
	"sync"
)

// Mock is a scripted Completer for tests and dry runs. Responses are
// returned in order; when the script is exhausted the last entry repeats.
// A nil script yields a fixed placeholder.
type Mock struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int

	// CompleteFunc, when set, overrides the scripted behavior entirely.
	CompleteFunc func(ctx context.Context, prompt string) (string, error)

	// Prompts records every prompt received, for assertions.
	Prompts []string
}

// NewMock creates a mock provider with an optional response script.
func NewMock(responses []string) *Mock {
	return &Mock{responses: responses}
}

// FailWith queues an error for the next call(s) before the scripted
// responses resume.
func (m *Mock) FailWith(errs ...error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// Calls reports how many times Complete ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Complete(ctx context.Context, prompt string) (string, error) {
	if m.CompleteFunc != nil {
		m.mu.Lock()
		m.calls++
		m.Prompts = append(m.Prompts, prompt)
		m.mu.Unlock()
		return m.CompleteFunc(ctx, prompt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", &TransportError{Provider: "mock", Err: err}
	}
	m.calls++
	m.Prompts = append(m.Prompts, prompt)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.responses) == 0 {
		return "generated text", nil
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}
