package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyAuthenticated is returned when a connection is marked
	// authenticated a second time.
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	// ErrUnknownConnection is returned for an id the registry does not hold.
	ErrUnknownConnection = errors.New("unknown connection")
)

// Registry tracks every open connection and the ordered authenticated set.
//
// Registry is not safe for concurrent use. It is owned by the relay loop,
// which is the only goroutine that touches it.
type Registry struct {
	conns         map[string]*Connection
	authenticated []*Connection
	active        map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		active: make(map[string]int),
	}
}

// Add registers a connection. Adding an id that is already present is a no-op.
func (r *Registry) Add(c *Connection) {
	if _, ok := r.conns[c.ID]; ok {
		return
	}
	r.conns[c.ID] = c
}

// Get returns the connection with the given id.
func (r *Registry) Get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Remove forgets a connection and returns it.
// Join order of the remaining authenticated connections is preserved.
func (r *Registry) Remove(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)

	if c.Authenticated() {
		for i, a := range r.authenticated {
			if a.ID == id {
				r.authenticated = append(r.authenticated[:i], r.authenticated[i+1:]...)
				break
			}
		}
		if r.active[c.Username]--; r.active[c.Username] <= 0 {
			delete(r.active, c.Username)
		}
	}
	return c, true
}

// MarkAuthenticated binds username to the connection and moves it into the
// authenticated set. Authentication is single-shot.
func (r *Registry) MarkAuthenticated(id, username string) error {
	c, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("mark %s authenticated: %w", id, ErrUnknownConnection)
	}
	if c.Authenticated() {
		return fmt.Errorf("mark %s authenticated as %q: %w", id, username, ErrAlreadyAuthenticated)
	}
	if username == "" {
		return fmt.Errorf("mark %s authenticated: empty username", id)
	}

	c.Username = username
	c.State = Authenticated
	r.authenticated = append(r.authenticated, c)
	r.active[username]++
	return nil
}

// Authenticated returns the authenticated connections in join order,
// leaving out the connection whose id is exclude.
func (r *Registry) Authenticated(exclude string) []*Connection {
	out := make([]*Connection, 0, len(r.authenticated))
	for _, c := range r.authenticated {
		if c.ID != exclude {
			out = append(out, c)
		}
	}
	return out
}

// Username returns the username bound to a connection, if any.
func (r *Registry) Username(id string) (string, bool) {
	c, ok := r.conns[id]
	if !ok || !c.Authenticated() {
		return "", false
	}
	return c.Username, true
}

// Active reports whether username is bound to an authenticated connection.
func (r *Registry) Active(username string) bool {
	return r.active[username] > 0
}

// All returns every registered connection in no particular order.
func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// AuthenticatedLen returns the size of the room.
func (r *Registry) AuthenticatedLen() int {
	return len(r.authenticated)
}
