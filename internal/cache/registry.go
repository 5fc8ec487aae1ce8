package cache

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry indexes caches by display name for hosts and listeners.
type Registry struct {
	mu     sync.RWMutex
	caches map[string]CacheService
}

func NewRegistry() *Registry {
	return &Registry{caches: map[string]CacheService{}}
}

func (r *Registry) Register(c CacheService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.DisplayName()
	if _, ok := r.caches[name]; ok {
		return fmt.Errorf("cache %s already registered", name)
	}
	r.caches[name] = c
	return nil
}

func (r *Registry) Get(name string) (CacheService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[name]
	return c, ok
}

// List returns the caches sorted by name.
func (r *Registry) List() []CacheService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CacheService, 0, len(r.caches))
	for _, c := range r.caches {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b CacheService) int {
		return strings.Compare(a.DisplayName(), b.DisplayName())
	})
	return out
}
