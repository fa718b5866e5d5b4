// Package tcp provides the TLS-over-TCP transport for the chat relay.
package tcp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/secure-socket-chat/internal/transport"
)

// DefaultHandshakeTimeout bounds the TLS handshake of one accepted connection.
const DefaultHandshakeTimeout = 5 * time.Second

// Listen opens a TLS listener on address. Accept only returns connections
// whose handshake finished within DefaultHandshakeTimeout.
func Listen(address string, config *tls.Config, log *zap.Logger) (net.Listener, error) {
	if config == nil {
		return nil, errors.New("tls config is required")
	}
	inner, err := tls.Listen("tcp", address, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP server: %w", err)
	}
	return transport.NewListener(inner, Handshaker(DefaultHandshakeTimeout), log), nil
}

// Handshaker returns a transport.Prepare that completes the server side of
// the TLS handshake within timeout.
func Handshaker(timeout time.Duration) transport.Prepare {
	return func(conn net.Conn) (net.Conn, error) {
		if err := Handshake(conn, timeout); err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Handshake completes the TLS handshake on conn within timeout.
// Connections that are not TLS are left untouched.
func Handshake(conn net.Conn, timeout time.Duration) error {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("tls handshake failed: %w", err)
	}
	return conn.SetDeadline(time.Time{})
}
