package presence

import (
	"sort"
	"sync"
	"time"

	"chatline/pkg/interfaces"
)

// Tracker maps usernames to their live connections
// ARCHITECTURAL DISCOVERY: Pure connection bookkeeping without chat policy;
// the router decides what to announce from the flags returned here
type Tracker struct {
	mu          sync.RWMutex                                // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out lookups
	connections map[string]map[string]interfaces.Connection // username -> connID -> Connection
	owners      map[string]string                           // connID -> username for O(1) deregistration
	online      map[string]time.Time                        // username -> time it came online
	now         func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		connections: make(map[string]map[string]interfaces.Connection),
		owners:      make(map[string]string),
		online:      make(map[string]time.Time),
		now:         time.Now,
	}
}

// Register adds conn under username and reports whether the user came online
// with this call. Registering the same connection twice is a no-op.
// FUNCTIONAL DISCOVERY: A connection announcing a different username moves
// to it; the previous name goes offline silently if that was its last device
func (t *Tracker) Register(username string, conn interfaces.Connection) bool {
	if conn == nil || username == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := conn.ID()
	if previous, ok := t.owners[id]; ok {
		if previous == username {
			return false
		}
		t.removeLocked(previous, id)
	}

	set, exists := t.connections[username]
	if !exists {
		set = make(map[string]interfaces.Connection)
		t.connections[username] = set
	}
	set[id] = conn
	t.owners[id] = username

	if _, isOnline := t.online[username]; isOnline {
		return false
	}
	t.online[username] = t.now()
	return true
}

// Deregister removes conn. wentOffline is true when it was the user's last
// connection. Unknown connections are ignored.
func (t *Tracker) Deregister(conn interfaces.Connection) (username string, wentOffline bool) {
	if conn == nil {
		return "", false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := conn.ID()
	username, ok := t.owners[id]
	if !ok {
		return "", false
	}
	return username, t.removeLocked(username, id)
}

// removeLocked drops one connection and clears the user from the online set
// in the same critical section when nothing is left
func (t *Tracker) removeLocked(username, id string) bool {
	delete(t.owners, id)

	set := t.connections[username]
	delete(set, id)
	if len(set) > 0 {
		return false
	}

	delete(t.connections, username)
	delete(t.online, username)
	return true
}

// UsernameFor returns the username a connection is registered under
func (t *Tracker) UsernameFor(conn interfaces.Connection) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	username, ok := t.owners[conn.ID()]
	return username, ok
}

// IsOnline reports whether username has at least one live connection
func (t *Tracker) IsOnline(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.online[username]
	return ok
}

// ListOnline returns the online usernames sorted alphabetically
func (t *Tracker) ListOnline() []string {
	t.mu.RLock()
	users := make([]string, 0, len(t.online))
	for username := range t.online {
		users = append(users, username)
	}
	t.mu.RUnlock()

	sort.Strings(users)
	return users
}

// ConnectionsFor returns a snapshot of username's connections
func (t *Tracker) ConnectionsFor(username string) []interfaces.Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.connections[username]
	conns := make([]interfaces.Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Connections returns a snapshot of every live connection
func (t *Tracker) Connections() []interfaces.Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(t.owners))
	for _, set := range t.connections {
		for _, conn := range set {
			conns = append(conns, conn)
		}
	}
	return conns
}

// OnlineSince returns when username came online
func (t *Tracker) OnlineSince(username string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	since, ok := t.online[username]
	return since, ok
}

// Stats returns counts for monitoring
func (t *Tracker) Stats() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return map[string]int{
		"online_users":       len(t.online),
		"active_connections": len(t.owners),
	}
}
