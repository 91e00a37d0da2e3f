package provider

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/postmint/postmint/pkg/config"
)

// Registry manages registered providers and rate-limits their use. Every
// Complete call goes through the provider's limiter so a refill burst cannot
// flood the upstream API.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registered
	defaultID string
}

type registered struct {
	completer Completer
	limiter   *rate.Limiter
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*registered)}
}

// Register adds a provider built from its configuration.
func (r *Registry) Register(cfg config.ProviderConfig, requestsPerMinute int) error {
	var completer Completer
	switch cfg.Type {
	case "openai":
		completer = NewOpenAIProvider(cfg.ID, cfg.Endpoint, cfg.APIKey, cfg.Model)
	case "ollama":
		completer = NewOllamaProvider(cfg.ID, cfg.Endpoint, cfg.Model)
	case "mock":
		completer = NewMock(nil)
	default:
		return fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
	return r.Add(cfg.ID, completer, requestsPerMinute)
}

// Add registers a pre-built completer under an ID.
func (r *Registry) Add(id string, completer Completer, requestsPerMinute int) error {
	if id == "" {
		return fmt.Errorf("provider id is required")
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[id] = &registered{
		completer: completer,
		limiter:   rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
	}
	if r.defaultID == "" {
		r.defaultID = id
	}
	return nil
}

// SetDefault selects the provider used when an account has no override.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("provider %s not found", id)
	}
	r.defaultID = id
	return nil
}

// Get returns a rate-limited completer. An empty id resolves the default.
func (r *Registry) Get(id string) (Completer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultID
	}
	reg, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %s not found", id)
	}
	return &limited{reg: reg}, nil
}

// limited wraps a registered provider with its rate limiter.
type limited struct {
	reg *registered
}

func (l *limited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := l.reg.limiter.Wait(ctx); err != nil {
		return "", &TransportError{Provider: "rate-limiter", Err: err}
	}
	return l.reg.completer.Complete(ctx, prompt)
}
