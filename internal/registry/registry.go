// Package registry tracks the live chat sessions.
//
// Identity uniqueness is checked by a linear scan, the way the
// handshake consumes it; the registry itself is an unordered
// collection.  A coarse lock keeps Add, Exists and Sweep safe to
// interleave.
package registry

import "sync"

// Entry is what the registry stores.  Sessions satisfy it.
type Entry interface {
	ID() string
	Disconnected() bool
}

// Registry is a concurrent collection of sessions.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

// New returns an empty registry.
func New() *Registry { return &Registry{} }

// Add inserts e without checking its identity.
func (r *Registry) Add(e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// AddIfAbsent inserts e unless an entry with the same ID is already
// present, and reports whether it was inserted.  The check and the
// insert happen under one lock, so two handshakes racing for the same
// identity cannot both win.
func (r *Registry) AddIfAbsent(e Entry) bool {
	id := e.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.entries {
		if cur.ID() == id {
			return false
		}
	}
	r.entries = append(r.entries, e)
	return true
}

// Exists reports whether any registered entry has the given ID.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ID() == id {
			return true
		}
	}
	return false
}

// Sweep drops every entry for which remove returns true and keeps the
// rest in their previous order.  It returns the number removed.
func (r *Registry) Sweep(remove func(Entry) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if remove(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped sessions can be collected.
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = kept
	return removed
}

// IsDisconnected is the Sweep predicate used by the reaper.
func IsDisconnected(e Entry) bool { return e.Disconnected() }

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns the registered identities in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.ID()
	}
	return out
}
