// Package handlers holds the in-process delivery targets: adapters register
// a symbolic key at startup and the dispatcher invokes it for matching
// contracts.
package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
)

// HandlerFunc consumes one matched event. Invoked on its own goroutine per
// match; a returned error is logged and does not affect other deliveries.
type HandlerFunc func(ctx context.Context, evt *v1.Event) error

// Registry maps symbolic handler keys to callbacks.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register installs a handler under key. Re-registering a key is an error;
// two adapters fighting over one key is a wiring bug worth failing loudly on.
func (r *Registry) Register(key string, fn HandlerFunc) error {
	if key == "" {
		return fmt.Errorf("handler key must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("handler %q: callback must not be nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("handler %q already registered", key)
	}
	r.handlers[key] = fn
	return nil
}

// Lookup returns the handler for key, if registered.
func (r *Registry) Lookup(key string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.handlers[key]
	return fn, ok
}

// Keys returns the registered handler keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
