// Package unified serves the raw TLS stream and WebSocket transports on one port.
package unified

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/secure-socket-chat/internal/transport"
	"github.com/omochice/secure-socket-chat/internal/transport/tcp"
	"github.com/omochice/secure-socket-chat/internal/transport/ws"
)

type protocolType int

const (
	protocolStream protocolType = iota
	protocolHTTP
)

// String returns the string representation of protocolType
func (p protocolType) String() string {
	if p == protocolHTTP {
		return "websocket"
	}
	return "stream"
}

// httpMethods are the request prefixes that mark a WebSocket client.
// A framed command never starts with these bytes.
var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"),
	[]byte("PATC"),
	[]byte("DELE"),
	[]byte("CONN"),
}

// detectProtocol peeks at the first bytes to determine protocol type
func detectProtocol(reader *bufio.Reader) (protocolType, error) {
	peek, err := reader.Peek(4)
	if err != nil {
		// Frames shorter than 4 bytes are still stream traffic.
		if len(peek) > 0 {
			return protocolStream, nil
		}
		return protocolStream, err
	}
	for _, m := range httpMethods {
		if bytes.HasPrefix(peek, m) {
			return protocolHTTP, nil
		}
	}
	return protocolStream, nil
}

// bufferedConn wraps a net.Conn with a bufio.Reader to preserve peeked data
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}

// Listen opens a TLS listener on address that hands out raw stream
// connections and upgraded WebSocket connections alike.
//
// The TLS handshake must finish within timeout. Waiting for the first
// application bytes has no deadline, because stream clients may stay idle
// before they authenticate.
func Listen(address string, config *tls.Config, timeout time.Duration, log *zap.Logger) (net.Listener, error) {
	if config == nil {
		return nil, errors.New("tls config is required")
	}
	if timeout <= 0 {
		timeout = ws.DefaultHandshakeTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	inner, err := tls.Listen("tcp", address, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	return transport.NewListener(inner, sniffer(timeout, log), log), nil
}

func sniffer(timeout time.Duration, log *zap.Logger) transport.Prepare {
	return func(conn net.Conn) (net.Conn, error) {
		if err := tcp.Handshake(conn, timeout); err != nil {
			return nil, err
		}

		reader := bufio.NewReader(conn)
		proto, err := detectProtocol(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to peek connection: %w", err)
		}
		log.Debug("detected protocol",
			zap.Stringer("remote", conn.RemoteAddr()),
			zap.Stringer("protocol", proto))

		buffered := &bufferedConn{Conn: conn, reader: reader}
		if proto == protocolHTTP {
			return ws.Upgrade(buffered, timeout)
		}
		return buffered, nil
	}
}
