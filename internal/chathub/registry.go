package chathub

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Transition is a presence edge: a user's connection count went 0→1
// (Online) or 1→0 (offline, At is the lastSeen time).
type Transition struct {
	UserID string
	Online bool
	At     time.Time
}

// Registry maps users to their live connections and back. All mutations are
// serialized by one mutex; transitions are handed to notify while the lock
// is held, so they reach listeners in the order the edges happened.
type Registry struct {
	mu      sync.RWMutex
	byUser  map[string]map[string]struct{}
	owner   map[string]string
	clients map[string]Client

	notify func(Transition)
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:  make(map[string]map[string]struct{}),
		owner:   make(map[string]string),
		clients: make(map[string]Client),
		now:     time.Now,
	}
}

// Register adds the connection for userID. Registering the same connection
// twice for the same user is a no-op; for a different user it fails with
// ErrConflict and leaves the registry untouched.
func (r *Registry) Register(userID string, c Client) error {
	connID := c.ID()
	if userID == "" || connID == "" {
		return fmt.Errorf("register %q for %q: %w", connID, userID, ErrConflict)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owner[connID]; ok {
		if owner != userID {
			return fmt.Errorf("connection %s belongs to %s, not %s: %w", connID, owner, userID, ErrConflict)
		}
		return nil
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.owner[connID] = userID
	r.clients[connID] = c

	if len(conns) == 1 && r.notify != nil {
		r.notify(Transition{UserID: userID, Online: true, At: r.now()})
	}
	return nil
}

// Unregister removes the connection. Unknown IDs are ignored.
func (r *Registry) Unregister(connID string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[connID]
	if !ok {
		return nil, false
	}
	c := r.clients[connID]
	delete(r.owner, connID)
	delete(r.clients, connID)

	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		if r.notify != nil {
			r.notify(Transition{UserID: userID, Online: false, At: r.now()})
		}
	}
	return c, true
}

// ConnectionsOf returns the user's connection IDs in sorted order.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) OwnerOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owner[connID]
	return userID, ok
}

func (r *Registry) Client(connID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// ClientsOf returns the live connections of every listed user, each once.
func (r *Registry) ClientsOf(userIDs ...string) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Client
	for _, userID := range userIDs {
		for connID := range r.byUser[userID] {
			out = append(out, r.clients[connID])
		}
	}
	return out
}

func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the IDs of users with at least one connection, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
