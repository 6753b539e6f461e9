// Package registry tracks live duplex connections and the user each one
// is authenticated as, and fans messages out to all of a user's connections.
package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotRegistered is returned for operations on an unknown connection id.
var ErrNotRegistered = errors.New("connection not registered")

// Transport is the write side of a connection. Implementations must be safe
// for concurrent Send calls.
type Transport interface {
	// Send delivers one message. It must not block on a slow peer; a
	// transport that cannot accept the message returns an error instead.
	Send(data []byte) error

	// Close tears the connection down.
	Close() error
}

// Connection is one registered duplex channel.
type Connection struct {
	// ID is the registry key, unique for the life of the process.
	ID string

	// RemoteAddr is informational.
	RemoteAddr string

	// ConnectedAt is when the connection was registered.
	ConnectedAt time.Time

	transport Transport

	mu              sync.RWMutex
	userID          string
	authenticatedAt time.Time
	alive           bool
}

// NewConnection wraps transport. The connection starts alive and
// unauthenticated.
func NewConnection(id, remoteAddr string, transport Transport) *Connection {
	return &Connection{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		transport:   transport,
		alive:       true,
	}
}

// UserID returns the authenticated user, or "" before authentication.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Authenticated reports whether the connection carries a user tag.
func (c *Connection) Authenticated() bool {
	return c.UserID() != ""
}

// Alive reports whether the transport is still considered writable.
func (c *Connection) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

// Send writes directly to this connection.
func (c *Connection) Send(data []byte) error {
	if !c.Alive() {
		return ErrNotRegistered
	}
	return c.transport.Send(data)
}

func (c *Connection) setUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.authenticatedAt = time.Now()
	c.mu.Unlock()
}

func (c *Connection) markDead() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

// Observer receives registry events. Used for metrics.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	Delivered(n int)
	DeliveryFailed()
}

// Registry is the process-wide set of live connections. It is safe for
// concurrent use; sends happen outside the lock.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	observer Observer
	logger   *slog.Logger
}

// New returns an empty registry. observer may be nil.
func New(observer Observer) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		observer:    observer,
		logger:      slog.Default().With("component", "registry"),
	}
}

// Register adds an unauthenticated connection. Registering an id twice
// replaces the earlier entry.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	_, existed := r.connections[conn.ID]
	r.connections[conn.ID] = conn
	r.mu.Unlock()

	if !existed && r.observer != nil {
		r.observer.ConnectionOpened()
	}
	r.logger.Debug("connection registered", "connection_id", conn.ID, "remote_addr", conn.RemoteAddr)
}

// Authenticate tags the connection with userID, replacing any earlier tag.
// Calling it again with the same user is a no-op apart from the timestamp.
func (r *Registry) Authenticate(connID, userID string) error {
	r.mu.RLock()
	conn, ok := r.connections[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotRegistered
	}

	previous := conn.UserID()
	conn.setUser(userID)

	if previous != "" && previous != userID {
		r.logger.Info("connection re-authenticated",
			"connection_id", connID,
			"previous_user_id", previous,
			"user_id", userID,
		)
	} else {
		r.logger.Debug("connection authenticated", "connection_id", connID, "user_id", userID)
	}
	return nil
}

// Unregister removes the connection. Unknown ids are ignored, so it is safe
// to call from both the read loop and a close handler.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.connections[connID]
	if ok {
		delete(r.connections, connID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	conn.markDead()
	if r.observer != nil {
		r.observer.ConnectionClosed()
	}
	r.logger.Debug("connection unregistered", "connection_id", connID, "user_id", conn.UserID())
}

// Get returns the connection with id.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	return conn, ok
}

// Broadcast sends payload to every live connection authenticated as userID
// except excludeID (pass "" to exclude nothing). A failed send is logged and
// does not stop delivery to the rest. It returns the number of connections
// the payload was handed to.
func (r *Registry) Broadcast(userID string, payload []byte, excludeID string) int {
	if userID == "" {
		return 0
	}

	targets := r.snapshot(func(c *Connection) bool {
		return c.ID != excludeID && c.Alive() && c.UserID() == userID
	})

	delivered := 0
	for _, conn := range targets {
		if err := conn.transport.Send(payload); err != nil {
			r.logger.Warn("broadcast send failed",
				"connection_id", conn.ID,
				"user_id", userID,
				"error", err,
			)
			if r.observer != nil {
				r.observer.DeliveryFailed()
			}
			continue
		}
		delivered++
	}

	if r.observer != nil && delivered > 0 {
		r.observer.Delivered(delivered)
	}
	return delivered
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CountForUser returns the number of connections authenticated as userID.
func (r *Registry) CountForUser(userID string) int {
	return len(r.snapshot(func(c *Connection) bool { return c.UserID() == userID }))
}

// CloseAll closes and removes every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	all := r.snapshot(func(*Connection) bool { return true })
	for _, conn := range all {
		if err := conn.transport.Close(); err != nil {
			r.logger.Debug("error closing connection", "connection_id", conn.ID, "error", err)
		}
		r.Unregister(conn.ID)
	}
}

func (r *Registry) snapshot(match func(*Connection) bool) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		if match(conn) {
			out = append(out, conn)
		}
	}
	return out
}
