package transport_test

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/omochice/secure-socket-chat/internal/transport"
)

// readGreeting requires the peer to send "hi" before the connection is ready.
func readGreeting(conn net.Conn) (net.Conn, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	if string(buf) != "hi" {
		return nil, errors.New("bad greeting")
	}
	return conn, nil
}

func listen(t *testing.T) *transport.Listener {
	t.Helper()
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := transport.NewListener(inner, readGreeting, zaptest.NewLogger(t))
	t.Cleanup(func() { ln.Close() })
	return ln
}

func accept(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.conn
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for accept")
		return nil
	}
}

// A silent peer does not hold up a peer that completes its handshake.
func TestListener_SlowPeerDoesNotBlock(t *testing.T) {
	ln := listen(t)

	silent, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	fast, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer fast.Close()
	_, err = fast.Write([]byte("hi"))
	require.NoError(t, err)

	conn := accept(t, ln)
	defer conn.Close()

	_, err = fast.Write([]byte("!"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "!", string(buf))
}

func TestListener_DropsFailedPrepare(t *testing.T) {
	ln := listen(t)

	bad, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer bad.Close()
	_, err = bad.Write([]byte("no"))
	require.NoError(t, err)

	bad.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = bad.Read(make([]byte, 1))
	assert.Error(t, err, "connection should be closed by the listener")

	good, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer good.Close()
	_, err = good.Write([]byte("hi"))
	require.NoError(t, err)

	accept(t, ln).Close()
}

func TestListener_CloseUnblocksAccept(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := transport.NewListener(inner, readGreeting, nil)

	// A pending handshake must not keep Close from returning.
	silent, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ln.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not return after Close")
	}
}
