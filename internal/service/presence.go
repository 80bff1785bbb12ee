package service

import "sync"

// PresenceTracker records which users currently hold live connections. State
// is process-local and rebuildable from zero; a restart only loses transient
// who-is-online visibility, never durable data.
type PresenceTracker interface {
	// MarkOnline registers a connection and reports whether it is the user's
	// first live connection.
	MarkOnline(userID uint, connID string) bool
	// MarkOffline removes a connection and reports whether the user has no
	// connections left. Multi-device users stay online until the last
	// connection drops.
	MarkOffline(userID uint, connID string) bool
	IsOnline(userID uint) bool
	OnlineSet() map[uint]struct{}
	ConnectionsFor(userID uint) int
}

type presenceTracker struct {
	mu          sync.RWMutex
	connections map[uint]map[string]struct{}
}

// NewPresenceTracker constructs an in-memory presence tracker.
func NewPresenceTracker() PresenceTracker {
	return &presenceTracker{
		connections: make(map[uint]map[string]struct{}),
	}
}

func (t *presenceTracker) MarkOnline(userID uint, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns, exists := t.connections[userID]
	if !exists {
		conns = make(map[string]struct{})
		t.connections[userID] = conns
	}
	conns[connID] = struct{}{}

	return !exists
}

func (t *presenceTracker) MarkOffline(userID uint, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns, exists := t.connections[userID]
	if !exists {
		return false
	}

	delete(conns, connID)
	if len(conns) == 0 {
		delete(t.connections, userID)
		return true
	}

	return false
}

func (t *presenceTracker) IsOnline(userID uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.connections[userID]) > 0
}

func (t *presenceTracker) OnlineSet() map[uint]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[uint]struct{}, len(t.connections))
	for userID := range t.connections {
		out[userID] = struct{}{}
	}
	return out
}

func (t *presenceTracker) ConnectionsFor(userID uint) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.connections[userID])
}
