package tools

import (
	"sync"
	"time"
)

// Registry holds the tool set published by the last successful refresh.
type Registry struct {
	mu        sync.RWMutex
	set       Set
	version   int64
	updatedAt time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{set: make(Set)}
}

// Publish replaces the tool set and bumps the version.
func (r *Registry) Publish(set Set) {
	clone := set.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = clone
	r.version++
	r.updatedAt = time.Now().UTC()
}

// Snapshot returns a copy of the published set.
func (r *Registry) Snapshot() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Clone()
}

// Version counts publishes since startup.
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// UpdatedAt is the time of the last publish, zero if none.
func (r *Registry) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}
