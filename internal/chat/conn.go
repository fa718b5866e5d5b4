// Package chat provides the core room logic shared by all transports:
// the connection registry and the authentication gate.
package chat

import (
	"net"

	"github.com/google/uuid"
)

// State is the authentication state of a connection.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Connection is one accepted stream and everything the relay knows about it.
type Connection struct {
	ID         string
	Conn       net.Conn
	RemoteAddr string
	Username   string
	State      State
	// Buffer holds bytes read from Conn that do not yet form a whole frame.
	Buffer []byte
}

// NewConnection wraps an accepted stream in the Unauthenticated state.
func NewConnection(conn net.Conn) *Connection {
	c := &Connection{
		ID:    uuid.NewString(),
		Conn:  conn,
		State: Unauthenticated,
	}
	if addr := conn.RemoteAddr(); addr != nil {
		c.RemoteAddr = addr.String()
	}
	return c
}

// Authenticated reports whether the connection has completed login.
func (c *Connection) Authenticated() bool {
	return c.State == Authenticated
}
