// Package subscribers tracks which users currently hold at least one live connection.
package subscribers

import (
	"sort"
	"sync"
)

// Registry is the authoritative record of who is online. Each user maps to the set of
// connection ids it currently holds, so a user with several devices stays online until
// its last connection is removed.
//
// A single lock guards everything. Presence churn is rare compared to message traffic
// and every operation is a small in-memory change.
type Registry struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
	conns int
}

// NewRegistry creates an empty registry, every user starts offline
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[string]struct{}),
	}
}

// Add registers connID under userID and reports whether the user just came online.
// Adding a connection that is already registered changes nothing.
func (r *Registry) Add(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, found := r.users[userID]
	if !found {
		conns = make(map[string]struct{}, 1)
		r.users[userID] = conns
	}
	if _, dupe := conns[connID]; dupe {
		return false
	}

	conns[connID] = struct{}{}
	r.conns++
	return len(conns) == 1
}

// Remove unregisters connID from userID and reports whether that was the user's last
// connection. Removing an unknown connection is a no-op returning false.
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, found := r.users[userID]
	if !found {
		return false
	}
	if _, tracked := conns[connID]; !tracked {
		return false
	}

	delete(conns, connID)
	r.conns--
	if len(conns) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// Snapshot returns the sorted ids of all online users
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	online := make([]string, 0, len(r.users))
	for userID := range r.users {
		online = append(online, userID)
	}
	r.mu.Unlock()

	sort.Strings(online)
	return online
}

// IsOnline returns whether userID has any live connection
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// Connections returns the ids of every connection held by userID
func (r *Registry) Connections(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.users[userID]
	ids := make([]string, 0, len(conns))
	for connID := range conns {
		ids = append(ids, connID)
	}
	return ids
}

// Count returns the number of online users
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// ConnectionCount returns the number of live connections across all users
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns
}
