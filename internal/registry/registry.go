// internal/registry/registry.go
package registry

import (
	"sync"
	"time"
)

// Registry is a fixed-TTL map. Every entry is scheduled for removal TTL after
// insertion; a successful TakeIfPresent always wins a race against the
// scheduled removal. Absence is the only failure signal.
type Registry[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	gen     uint64
	entries map[string]*entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	gen       uint64
	timer     *time.Timer
}

// New returns a registry whose entries live for ttl.
func New[V any](ttl time.Duration) *Registry[V] {
	return &Registry[V]{
		ttl:     ttl,
		entries: make(map[string]*entry[V]),
	}
}

// Put inserts key with the given value and schedules its removal. Re-inserting
// an existing key resets its lifetime.
func (r *Registry[V]) Put(key string, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[key]; ok {
		old.timer.Stop()
	}
	r.gen++
	e := &entry[V]{
		value:     value,
		expiresAt: time.Now().Add(r.ttl),
		gen:       r.gen,
	}
	gen := e.gen
	e.timer = time.AfterFunc(r.ttl, func() {
		r.removeIfGen(key, gen)
	})
	r.entries[key] = e
}

// removeIfGen deletes key only if it still holds the generation the timer was
// armed for, so a stale timer cannot evict a re-inserted key.
func (r *Registry[V]) removeIfGen(key string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok && e.gen == gen {
		delete(r.entries, key)
	}
}

// TakeIfPresent atomically looks up and deletes key. The boolean is false if
// the key is absent or already past its expiry.
func (r *Registry[V]) TakeIfPresent(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	e.timer.Stop()
	delete(r.entries, key)
	return e.value, true
}

// Contains reports whether key is present and unexpired.
func (r *Registry[V]) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return ok && !time.Now().After(e.expiresAt)
}

// Get returns the value for key without consuming it.
func (r *Registry[V]) Get(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len returns the number of live entries.
func (r *Registry[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
