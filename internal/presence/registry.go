package presence

import "sync"

// Pusher is one live push connection. Push must not block: implementations
// enqueue onto a buffered channel and drop when the peer is too slow.
type Pusher interface {
	Push(event string, payload any)
}

// Registry maps a user ID to that user's live connections. It is purely
// in-memory and rebuilt from scratch when the process restarts; durable state
// never lives here. All methods are safe for concurrent use and never block
// on I/O, they sit on the hot path of every connect and disconnect.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]Pusher
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]Pusher)}
}

// Register adds a connection for the user and reports whether this was the
// user's first live connection (the online edge). Registering a second tab
// or device returns false, so the caller fires the online transition at most
// once per actual edge.
func (r *Registry) Register(userID, connID string, p Pusher) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]Pusher)
		r.conns[userID] = set
	}
	first = len(set) == 0
	set[connID] = p
	return first
}

// Unregister removes a connection and reports whether the user just went
// offline (the set became empty). Unregistering an unknown connection is a
// no-op and never reports an offline edge.
func (r *Registry) Unregister(userID, connID string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
		return true
	}
	return false
}

// ConnectionsFor returns the user's current connections. An empty slice is
// the normal offline case, not an error.
func (r *Registry) ConnectionsFor(userID string) []Pusher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	out := make([]Pusher, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Count returns the total number of live connections across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}
