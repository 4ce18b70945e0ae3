package registry

import (
	"sync"

	"github.com/mliang/classcast/backend/internal/model/live"
)

// Registry owns the set of live connections and their attributes. Every
// operation works on in-memory state only and never blocks on network I/O.
// Operations addressing an unknown connection id are no-ops, not errors: a
// client may disconnect concurrently with an in-flight fan-out.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// New creates an empty connection registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers a live connection.
func (r *Registry) Add(c *Client) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
}

// Remove deregisters a connection and clears every attribute held for it, so
// no stale state can leak into a later connection reusing the transport slot.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	r.mu.Unlock()

	if ok {
		c.clear()
	}
}

// Get looks up a connection by id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// SetRole updates the role of the identified connection.
func (r *Registry) SetRole(id string, role live.Role) {
	if c, ok := r.Get(id); ok {
		c.setRole(role)
	}
}

// SetLanguage updates the declared language of the identified connection.
func (r *Registry) SetLanguage(id, language string) {
	if c, ok := r.Get(id); ok {
		c.setLanguage(language)
	}
}

// SetSetting stores one client setting for the identified connection.
func (r *Registry) SetSetting(id, key string, value any) {
	if c, ok := r.Get(id); ok {
		c.setSetting(key, value)
	}
}

// MergeSettings merges the provided keys into the connection's settings map.
func (r *Registry) MergeSettings(id string, values map[string]any) {
	if c, ok := r.Get(id); ok {
		c.mergeSettings(values)
	}
}

// Snapshot returns the current connection set as a slice. Fan-out iterates
// over a snapshot so concurrent joins and leaves cannot corrupt iteration; a
// client that disconnects mid-iteration simply fails its send.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		all = append(all, c)
	}
	return all
}

// AllByRole returns every connection currently holding the given role.
func (r *Registry) AllByRole(role live.Role) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*Client
	for _, c := range r.clients {
		if c.Role() == role {
			matched = append(matched, c)
		}
	}
	return matched
}

// AllByLanguage returns every connection holding the given role and
// declaring the given language.
func (r *Registry) AllByLanguage(language string, role live.Role) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*Client
	for _, c := range r.clients {
		if c.Role() != role {
			continue
		}
		if c.Language() == language {
			matched = append(matched, c)
		}
	}
	return matched
}
