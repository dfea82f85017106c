package relayws

import (
	"sync"
	"time"
)

// Transport is the send side of one client socket.
type Transport interface {
	// Send queues data for delivery. It must not block on a slow peer.
	Send(data []byte) error
	// Open reports whether the transport can still deliver.
	Open() bool
	Close()
}

// Connection is one live client socket. It is unbound until it authenticates.
type Connection struct {
	ID          string
	Transport   Transport
	ConnectedAt time.Time

	userID string // guarded by Registry.mu
}

// Registry tracks live connections and the user each one is bound to.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: map[string]*Connection{}}
}

// Register adds an unbound connection.
func (r *Registry) Register(id string, t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return ErrDuplicateConnection
	}
	r.conns[id] = &Connection{
		ID:          id,
		Transport:   t,
		ConnectedAt: time.Now(),
	}
	return nil
}

// Bind attaches userID to the connection. Binding to the same user again is a
// no-op and reports bound=false; binding to a different user fails.
func (r *Registry) Bind(id, userID string) (bound bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false, ErrConnectionNotFound
	}
	switch conn.userID {
	case "":
		conn.userID = userID
		return true, nil
	case userID:
		return false, nil
	default:
		return false, ErrAlreadyAuthenticated
	}
}

// UserOf returns the user bound to id, if any.
func (r *Registry) UserOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok || conn.userID == "" {
		return "", false
	}
	return conn.userID, true
}

// Remove deletes id and returns the user it was bound to. Removing an unknown
// id is a no-op.
func (r *Registry) Remove(id string) (userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return "", false
	}
	delete(r.conns, id)
	return conn.userID, true
}

// Len returns the number of registered connections, bound or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) snapshot(match func(c *Connection) bool) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, c := range r.conns {
		if match(c) {
			conns = append(conns, c)
		}
	}
	return conns
}

// ForEachLiveForUser calls fn for every open connection bound to userID.
// Liveness is checked right before each call, so a connection closed after the
// snapshot is skipped.
func (r *Registry) ForEachLiveForUser(userID string, fn func(c *Connection)) {
	if userID == "" {
		return
	}
	conns := r.snapshot(func(c *Connection) bool { return c.userID == userID })
	for _, c := range conns {
		if c.Transport.Open() {
			fn(c)
		}
	}
}

// ForEachLive calls fn for every open, authenticated connection.
func (r *Registry) ForEachLive(fn func(c *Connection)) {
	conns := r.snapshot(func(c *Connection) bool { return c.userID != "" })
	for _, c := range conns {
		if c.Transport.Open() {
			fn(c)
		}
	}
}

// CloseAll closes every registered transport. Entries are left in place for
// their handlers to remove.
func (r *Registry) CloseAll() int {
	conns := r.snapshot(func(*Connection) bool { return true })
	for _, c := range conns {
		c.Transport.Close()
	}
	return len(conns)
}
