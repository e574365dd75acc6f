package gateway

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Factory constructs a gateway adapter from decrypted tenant credentials.
type Factory func(creds Credentials, log *zap.Logger) (Gateway, error)

// Registry maps provider kinds to adapter constructors. Dispatch is
// explicit: a kind resolves only if it was registered at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a provider kind to its constructor. Later registrations
// for the same kind replace earlier ones.
func (r *Registry) Register(kind string, factory Factory) {
	kind = normalizeKind(kind)
	if kind == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// New constructs an adapter for the kind, or returns
// PROVIDER_NOT_SUPPORTED when no constructor is registered.
func (r *Registry) New(kind string, creds Credentials, log *zap.Logger) (Gateway, error) {
	normalized := normalizeKind(kind)

	r.mu.RLock()
	factory, ok := r.factories[normalized]
	r.mu.RUnlock()

	if !ok {
		return nil, NewNotSupportedError(kind)
	}
	return factory(creds, log)
}

// Supports reports whether an adapter is registered for the kind.
func (r *Registry) Supports(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeKind(kind)]
	return ok
}

// Kinds lists the registered provider kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
