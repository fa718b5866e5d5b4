// Package transport holds helpers shared by the relay's stream transports.
package transport

import (
	"net"
	"sync"

	"go.uber.org/zap"
)

// Prepare turns a freshly accepted connection into a ready byte stream,
// for example by completing a handshake. It owns conn's deadlines.
type Prepare func(conn net.Conn) (net.Conn, error)

// Listener runs Prepare for every accepted connection in its own goroutine,
// so one slow peer never delays the others. Accept returns connections in
// the order they become ready. Connections that fail Prepare are closed.
type Listener struct {
	inner   net.Listener
	prepare Prepare
	log     *zap.Logger

	ready chan net.Conn
	errs  chan error
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewListener starts accepting from inner.
func NewListener(inner net.Listener, prepare Prepare, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Listener{
		inner:   inner,
		prepare: prepare,
		log:     log,
		ready:   make(chan net.Conn),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l
}

// Accept implements net.Listener.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.ready:
		return conn, nil
	case err := <-l.errs:
		return nil, err
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops accepting and waits for pending handshakes to finish.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.inner.Close()
		l.wg.Wait()
	})
	return err
}

// Addr implements net.Listener.
func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.inner.Accept()
		if err != nil {
			select {
			case <-l.done:
			case l.errs <- err:
			}
			return
		}

		l.wg.Add(1)
		go l.prepareConn(conn)
	}
}

func (l *Listener) prepareConn(conn net.Conn) {
	defer l.wg.Done()

	// Unblock a handshake stuck on a silent peer when the listener closes.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-l.done:
			conn.Close()
		case <-stop:
		}
	}()

	ready, err := l.prepare(conn)
	if err != nil {
		l.log.Debug("dropping connection",
			zap.Stringer("remote", conn.RemoteAddr()),
			zap.Error(err))
		conn.Close()
		return
	}

	select {
	case l.ready <- ready:
	case <-l.done:
		ready.Close()
	}
}
