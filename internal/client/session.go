package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/secure-socket-chat/pkg/protocol"
)

// ErrServerClosed is returned by Run when the server ends the connection.
var ErrServerClosed = errors.New("server closed the connection")

// errInputClosed ends the session when local input reaches EOF.
var errInputClosed = errors.New("input closed")

// Session is a connection to the relay.
//
// Register and Login must not be called concurrently with each other or
// with Run.
type Session struct {
	conn   net.Conn
	reader *protocol.Reader
	limit  int
	log    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func newSession(conn net.Conn, limit int, log *zap.Logger) *Session {
	return &Session{
		conn:   conn,
		reader: protocol.NewReader(conn, limit),
		limit:  limit,
		log:    log,
	}
}

// RemoteAddr returns the server address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Register asks the server to create an account. It does not log in.
func (s *Session) Register(ctx context.Context, username, password string) (protocol.Outcome, error) {
	return s.roundTrip(ctx, protocol.Register(username, password))
}

// Login authenticates the session. On failure the connection stays usable
// and Login may be retried.
func (s *Session) Login(ctx context.Context, username, password string) (protocol.Outcome, error) {
	return s.roundTrip(ctx, protocol.Login(username, password))
}

// roundTrip sends cmd and waits for exactly one outcome frame.
func (s *Session) roundTrip(ctx context.Context, cmd protocol.Command) (protocol.Outcome, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	defer func() {
		if stop() {
			_ = s.conn.SetDeadline(time.Time{})
		}
	}()

	if err := protocol.WriteFrame(s.conn, cmd.Encode()); err != nil {
		return protocol.OutcomeUnknown, s.ctxErr(ctx, fmt.Errorf("failed to send %s: %w", cmd.Verb, err))
	}
	frame, err := s.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return protocol.OutcomeUnknown, ErrServerClosed
		}
		return protocol.OutcomeUnknown, s.ctxErr(ctx, fmt.Errorf("failed to read reply: %w", err))
	}

	outcome, err := protocol.ParseOutcome(frame)
	if err != nil {
		return protocol.OutcomeUnknown, err
	}
	s.log.Debug("command answered",
		zap.Stringer("verb", cmd.Verb),
		zap.String("user", cmd.Username),
		zap.Stringer("outcome", outcome))
	return outcome, nil
}

func (s *Session) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Run relays lines from in to the room and frames from the room to out, one
// per line, until ctx is cancelled, in reaches EOF or the connection fails.
// EOF on in and cancellation return nil. Run closes the session.
func (s *Session) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stopInput := make(chan struct{})
	defer close(stopInput)

	// Reading from in may block forever, so it is not part of the group.
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 4096), s.limit)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stopInput:
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					if err := <-readErr; err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}
					return errInputClosed
				}
				if line == "" {
					continue
				}
				if err := protocol.WriteFrame(s.conn, []byte(line)); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("failed to send message: %w", err)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			frame, err := s.reader.ReadFrame()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				if errors.Is(err, io.EOF) {
					return ErrServerClosed
				}
				return fmt.Errorf("connection lost: %w", err)
			}
			if _, err := fmt.Fprintf(out, "%s\n", frame); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		if err := s.Close(); err != nil {
			s.log.Debug("close failed", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errInputClosed) {
		return nil
	}
	return err
}

// Close closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
