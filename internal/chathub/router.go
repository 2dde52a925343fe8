package chathub

import (
	"log"
	"sync"

	"relaychat/backend/internal/metrics"
	"relaychat/backend/internal/models"
)

// Router tracks which connections have joined which conversation and fans
// envelopes out to them. It does not check membership against the stored
// participant list; the Coordinator does that before calling it.
type Router struct {
	registry *Registry
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // conversation → connections
	joined map[string]map[string]struct{} // connection → conversations
}

func NewRouter(registry *Registry, m *metrics.Metrics) *Router {
	return &Router{
		registry: registry,
		metrics:  m,
		rooms:    make(map[string]map[string]struct{}),
		joined:   make(map[string]map[string]struct{}),
	}
}

func (r *Router) Join(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	add(r.rooms, conversationID, connID)
	add(r.joined, connID, conversationID)
}

func (r *Router) Leave(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remove(r.rooms, conversationID, connID)
	remove(r.joined, connID, conversationID)
}

// LeaveAll drops the connection from every room it joined.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conversationID := range r.joined[connID] {
		remove(r.rooms, conversationID, connID)
	}
	delete(r.joined, connID)
}

func (r *Router) IsMember(connID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][connID]
	return ok
}

func (r *Router) roomClients(conversationID string) []Client {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms[conversationID]))
	for id := range r.rooms[conversationID] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.registry.Client(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// BroadcastRoom sends env to every connection joined to the conversation,
// skipping connections owned by skipUser when it is set.
func (r *Router) BroadcastRoom(conversationID string, env models.Envelope, skipUser string) int {
	var targets []Client
	for _, c := range r.roomClients(conversationID) {
		if skipUser != "" && c.GetUserID() == skipUser {
			continue
		}
		targets = append(targets, c)
	}
	return r.deliver(targets, env)
}

// Broadcast sends env to the room and to every connection of every
// participant, each connection once.
func (r *Router) Broadcast(conversationID string, participants []string, env models.Envelope) int {
	seen := make(map[string]struct{})
	var targets []Client
	for _, c := range append(r.roomClients(conversationID), r.registry.ClientsOf(participants...)...) {
		if _, dup := seen[c.ID()]; dup {
			continue
		}
		seen[c.ID()] = struct{}{}
		targets = append(targets, c)
	}
	return r.deliver(targets, env)
}

func (r *Router) SendToUser(userID string, env models.Envelope) int {
	return r.deliver(r.registry.ClientsOf(userID), env)
}

func (r *Router) SendToAll(env models.Envelope) int {
	return r.deliver(r.registry.All(), env)
}

// SendTo addresses a single connection.
func (r *Router) SendTo(c Client, env models.Envelope) bool {
	return r.deliver([]Client{c}, env) == 1
}

func (r *Router) deliver(targets []Client, env models.Envelope) int {
	sent, dropped := 0, 0
	for _, c := range targets {
		if c.Send(env) {
			sent++
			continue
		}
		dropped++
		log.Printf("WARNING: dropped %s for connection %s (user %s)", env.Event, c.ID(), c.GetUserID())
	}
	r.metrics.Delivered(sent)
	r.metrics.Dropped(dropped)
	return sent
}

func add(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func remove(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m, key)
	}
}
