// Package server implements the chat relay: a single event loop that owns
// every connection, gates new ones through the auth protocol and fans out
// chat lines to the authenticated room.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/omochice/secure-socket-chat/internal/chat"
	"github.com/omochice/secure-socket-chat/internal/credentials"
	"github.com/omochice/secure-socket-chat/pkg/protocol"
)

// DefaultWriteTimeout bounds a single write to one recipient.
const DefaultWriteTimeout = 2 * time.Second

const (
	readBufferSize = 4096
	eventQueueSize = 64
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithWriteTimeout sets the deadline applied to every write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithMaxFrameSize sets the largest payload accepted from a peer.
func WithMaxFrameSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// readEvent carries the result of one Read on a connection into the loop.
type readEvent struct {
	id   string
	data []byte
	err  error
}

// Server relays chat lines between authenticated connections.
type Server struct {
	listener     net.Listener
	log          *zap.Logger
	writeTimeout time.Duration
	maxFrame     int

	// Owned by the loop goroutine.
	registry *chat.Registry
	gate     *chat.Gate
	doomed   []string
	dooming  map[string]struct{}

	events chan readEvent
	done   chan struct{}
	wg     sync.WaitGroup

	clients       atomic.Int64
	authenticated atomic.Int64
}

// New creates a relay that accepts from ln and checks credentials against store.
func New(ln net.Listener, store credentials.Store, opts ...Option) *Server {
	s := &Server{
		listener:     ln,
		log:          zap.NewNop(),
		writeTimeout: DefaultWriteTimeout,
		maxFrame:     protocol.DefaultMaxFrameSize,
		registry:     chat.NewRegistry(),
		dooming:      make(map[string]struct{}),
		events:       make(chan readEvent, eventQueueSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = chat.NewGate(store, s.registry, s.log)
	return s
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	return int(s.clients.Load())
}

// AuthenticatedCount returns the number of connections in the room.
func (s *Server) AuthenticatedCount() int {
	return int(s.authenticated.Load())
}

// Serve runs the relay until ctx is cancelled or the listener fails.
// Cancellation closes every connection and the listener and returns nil.
// Serve must be called at most once.
func (s *Server) Serve(ctx context.Context) error {
	accepted := make(chan net.Conn)
	acceptErr := make(chan error, 1)

	s.wg.Add(1)
	go s.acceptLoop(accepted, acceptErr)

	s.log.Info("server started", zap.String("addr", s.Addr()))

	for {
		select {
		case <-ctx.Done():
			if err := s.shutdown(); err != nil {
				s.log.Debug("errors while closing connections", zap.Error(err))
			}
			s.log.Info("server stopped")
			return nil
		case err := <-acceptErr:
			return multierr.Append(fmt.Errorf("failed to accept connection: %w", err), s.shutdown())
		case conn := <-accepted:
			s.admit(conn)
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
		s.reap()
		s.clients.Store(int64(s.registry.Len()))
		s.authenticated.Store(int64(s.registry.AuthenticatedLen()))
	}
}

func (s *Server) acceptLoop(accepted chan<- net.Conn, acceptErr chan<- error) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				acceptErr <- err
			}
			return
		}
		select {
		case accepted <- conn:
		case <-s.done:
			conn.Close()
			return
		}
	}
}

// admit registers an accepted connection and starts its reader.
func (s *Server) admit(conn net.Conn) {
	c := chat.NewConnection(conn)
	s.registry.Add(c)
	s.log.Info("client connected", zap.String("conn", c.ID), zap.String("remote", c.RemoteAddr))

	s.wg.Add(1)
	go s.readLoop(c.ID, conn)
}

// readLoop forwards raw reads into the loop until the connection fails.
func (s *Server) readLoop(id string, conn net.Conn) {
	defer s.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		ev := readEvent{id: id}
		if n > 0 {
			ev.data = append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			ev.err = err
		}
		if n == 0 && err == nil {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, ev readEvent) {
	c, ok := s.registry.Get(ev.id)
	if !ok {
		return
	}
	log := s.log.With(zap.String("conn", c.ID), zap.String("remote", c.RemoteAddr))

	if len(ev.data) > 0 {
		c.Buffer = append(c.Buffer, ev.data...)
		for {
			if s.isDoomed(c.ID) {
				return
			}
			frame, rest, err := protocol.DecodeNext(c.Buffer, s.maxFrame)
			if err != nil {
				log.Warn("closing connection after framing error", zap.Error(err))
				s.doom(c.ID)
				return
			}
			if frame == nil {
				break
			}
			c.Buffer = rest
			s.dispatch(ctx, c, frame)
		}
		if len(c.Buffer) == 0 {
			c.Buffer = nil
		}
	}

	if ev.err != nil {
		if errors.Is(ev.err, io.EOF) || errors.Is(ev.err, net.ErrClosed) {
			log.Debug("peer closed connection")
		} else {
			log.Info("read failed", zap.Error(ev.err))
		}
		s.doom(c.ID)
	}
}

// dispatch handles one decoded frame from c.
func (s *Server) dispatch(ctx context.Context, c *chat.Connection, frame []byte) {
	if c.Authenticated() {
		s.broadcast(c.ID, protocol.ChatLine(c.Username, frame))
		return
	}

	d := s.gate.Handle(ctx, c, frame)
	s.send(c, d.Reply.Payload())
	if d.Fatal != nil {
		s.doom(c.ID)
		return
	}
	if d.Joined {
		s.broadcast(c.ID, protocol.JoinNotice(c.Username))
	}
}

// broadcast writes payload to every authenticated connection but the sender.
// Recipients whose write fails are scheduled for removal.
func (s *Server) broadcast(sender string, payload []byte) {
	for _, c := range s.registry.Authenticated(sender) {
		if s.isDoomed(c.ID) {
			continue
		}
		s.send(c, payload)
	}
}

// send writes one frame to c under the write deadline.
func (s *Server) send(c *chat.Connection, payload []byte) {
	err := c.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err == nil {
		err = protocol.WriteFrame(c.Conn, payload)
	}
	if err != nil {
		s.log.Info("dropping recipient after failed write",
			zap.String("conn", c.ID),
			zap.String("user", c.Username),
			zap.Error(err))
		s.doom(c.ID)
	}
}

func (s *Server) doom(id string) {
	if _, ok := s.dooming[id]; ok {
		return
	}
	s.dooming[id] = struct{}{}
	s.doomed = append(s.doomed, id)
}

func (s *Server) isDoomed(id string) bool {
	_, ok := s.dooming[id]
	return ok
}

// reap removes scheduled connections. Leave notices may fail and schedule
// further removals, which are handled in the same pass.
func (s *Server) reap() {
	for len(s.doomed) > 0 {
		id := s.doomed[0]
		s.doomed = s.doomed[1:]
		s.drop(id)
		delete(s.dooming, id)
	}
	s.doomed = nil
}

// drop removes and closes a connection, announcing its departure if it was
// in the room.
func (s *Server) drop(id string) {
	c, ok := s.registry.Remove(id)
	if !ok {
		return
	}
	if err := s.closeConn(c); err != nil {
		s.log.Debug("close failed", zap.String("conn", c.ID), zap.Error(err))
	}
	s.log.Info("client disconnected", zap.String("conn", c.ID), zap.String("user", c.Username))
	if c.Authenticated() {
		s.broadcast(c.ID, protocol.LeaveNotice(c.Username))
	}
}

// closeConn closes c without letting a stalled peer block the loop on a
// closing handshake.
func (s *Server) closeConn(c *chat.Connection) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return c.Conn.Close()
}

// shutdown closes the listener and every connection, then waits for the
// accept and reader goroutines.
func (s *Server) shutdown() error {
	close(s.done)
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	for _, c := range s.registry.All() {
		s.registry.Remove(c.ID)
		err = multierr.Append(err, s.closeConn(c))
	}
	s.wg.Wait()
	s.clients.Store(0)
	s.authenticated.Store(0)
	return err
}
