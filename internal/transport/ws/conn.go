// Package ws provides the WebSocket transport for the chat relay.
//
// A WebSocket connection is presented as a plain byte stream: every Write
// becomes one binary message and Read returns message bytes in order, so
// length-prefixed frames ride on top unchanged.
package ws

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts an upgraded WebSocket connection to net.Conn.
// Deadlines and addresses come from the underlying connection.
type Conn struct {
	net.Conn
	state ws.State
	// reader is the raw conn, or the dialer's handshake reader when one is returned.
	reader  io.Reader
	pending []byte

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewConn wraps conn after a completed handshake. br may be nil.
func NewConn(conn net.Conn, state ws.State, br *bufio.Reader) *Conn {
	c := &Conn{Conn: conn, state: state, reader: conn}
	if br != nil {
		c.reader = br
	}
	return c
}

// Read returns bytes from the next binary or text message.
// Control frames are answered transparently.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.pending) == 0 {
		data, _, err := wsutil.ReadData(readWriter{c}, c.state)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return 0, io.EOF
			}
			return 0, err
		}
		c.pending = data
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write sends p as one binary message.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := wsutil.WriteMessage(c.Conn, c.state, ws.OpBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame on a best-effort basis and closes the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = wsutil.WriteMessage(c.Conn, c.state, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	c.writeMu.Unlock()
	return c.Conn.Close()
}

// readWriter reads from the handshake-aware reader and serializes control
// frame replies with regular writes.
type readWriter struct {
	c *Conn
}

func (rw readWriter) Read(p []byte) (int, error) {
	return rw.c.reader.Read(p)
}

func (rw readWriter) Write(p []byte) (int, error) {
	rw.c.writeMu.Lock()
	defer rw.c.writeMu.Unlock()
	return rw.c.Conn.Write(p)
}
