// Package client implements the client side of a chat session: the
// authentication exchange and the two-way relay between local input and the
// room.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/omochice/secure-socket-chat/internal/config"
	"github.com/omochice/secure-socket-chat/internal/transport/tcp"
	"github.com/omochice/secure-socket-chat/internal/transport/ws"
	"github.com/omochice/secure-socket-chat/pkg/protocol"
)

// Config describes how to reach the server.
type Config struct {
	// Address is the server's host:port.
	Address string
	// Transport is config.TransportTCP (default) or config.TransportWebSocket.
	Transport    string
	TLS          *tls.Config
	MaxFrameSize int
	Logger       *zap.Logger
}

// Dial connects to the server over the configured transport.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.TLS == nil {
		return nil, fmt.Errorf("tls config is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := cfg.MaxFrameSize
	if limit <= 0 {
		limit = protocol.DefaultMaxFrameSize
	}

	var conn net.Conn
	var err error
	switch cfg.Transport {
	case "", config.TransportTCP:
		conn, err = tcp.Dial(ctx, cfg.Address, cfg.TLS)
	case config.TransportWebSocket:
		conn, err = ws.Dial(ctx, cfg.Address, cfg.TLS)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("connected",
		zap.String("server", cfg.Address),
		zap.String("transport", cfg.Transport))
	return newSession(conn, limit, log), nil
}
