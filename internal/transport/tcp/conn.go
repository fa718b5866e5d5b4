package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// Dial connects to address and completes the TLS handshake before returning,
// so the first application byte is already encrypted.
func Dial(ctx context.Context, address string, config *tls.Config) (net.Conn, error) {
	dialer := &tls.Dialer{Config: config}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return conn, nil
}
