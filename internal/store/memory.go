package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MemoryBackend keeps nodes in a map. It backs tests and single-process
// deployments that do not need persistence.
type MemoryBackend struct {
	mu    sync.RWMutex
	nodes map[string]Properties
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{nodes: map[string]Properties{}}
}

func (m *MemoryBackend) Load(_ context.Context, p string) (Properties, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	props, ok := m.nodes[Clean(p)]
	if !ok {
		return Properties{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return props.Clone(), nil
}

func (m *MemoryBackend) List(_ context.Context, p string) ([]string, error) {
	p = Clean(p)
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for key := range m.nodes {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	slices.Sort(names)
	return names, nil
}

func (m *MemoryBackend) Save(_ context.Context, p string, props Properties) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[Clean(p)] = props.Clone()
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, p string) error {
	p = Clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.nodes {
		if IsWithin(key, p) {
			delete(m.nodes, key)
		}
	}
	return nil
}

// Len reports the number of stored nodes.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}
