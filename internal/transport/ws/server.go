package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/omochice/secure-socket-chat/internal/transport"
)

// DefaultHandshakeTimeout bounds the TLS and WebSocket upgrade of one connection.
const DefaultHandshakeTimeout = 5 * time.Second

// Listen opens a WebSocket-over-TLS listener on address.
// Connections whose upgrade fails are closed and skipped.
func Listen(address string, config *tls.Config, log *zap.Logger) (net.Listener, error) {
	if config == nil {
		return nil, errors.New("tls config is required")
	}
	inner, err := tls.Listen("tcp", address, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start WebSocket server: %w", err)
	}
	return transport.NewListener(inner, Upgrader(DefaultHandshakeTimeout), log), nil
}

// Upgrader returns a transport.Prepare that performs the server side of the
// WebSocket handshake within timeout.
func Upgrader(timeout time.Duration) transport.Prepare {
	return func(conn net.Conn) (net.Conn, error) {
		return Upgrade(conn, timeout)
	}
}

// Upgrade performs the server side of the WebSocket handshake on conn.
// Bytes already read from conn must be replayed by conn itself.
func Upgrade(conn net.Conn, timeout time.Duration) (net.Conn, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := ws.Upgrade(conn); err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return NewConn(conn, ws.StateServerSide, nil), nil
}

// Dial connects to a wss:// URL built from address and returns the upgraded stream.
func Dial(ctx context.Context, address string, config *tls.Config) (net.Conn, error) {
	dialer := ws.Dialer{TLSConfig: config}
	conn, br, _, err := dialer.Dial(ctx, "wss://"+address+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return NewConn(conn, ws.StateClientSide, br), nil
}
