// Package config holds the settings of the server and client binaries.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/omochice/secure-socket-chat/internal/transport/tcp"
	"github.com/omochice/secure-socket-chat/pkg/protocol"
)

// Transport names.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
	// TransportAuto serves both transports on one port. Server only.
	TransportAuto = "auto"
)

// Server configures the relay.
type Server struct {
	Addr         string
	Transport    string
	CertFile     string
	KeyFile      string
	DBPath       string
	BcryptCost   int
	WriteTimeout time.Duration
	MaxFrameSize int
	LogLevel     string
	Development  bool
}

// DefaultServer returns the server defaults.
func DefaultServer() Server {
	return Server{
		Addr:         ":9000",
		Transport:    TransportTCP,
		DBPath:       "chat_users.db",
		WriteTimeout: 2 * time.Second,
		MaxFrameSize: protocol.DefaultMaxFrameSize,
		LogLevel:     "info",
	}
}

// Validate reports the first invalid setting.
func (s Server) Validate() error {
	if s.Addr == "" {
		return errors.New("listen address is required")
	}
	if s.Transport != TransportAuto {
		if err := validateTransport(s.Transport); err != nil {
			return err
		}
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		return errors.New("--cert and --key must be given together")
	}
	if s.DBPath == "" {
		return errors.New("database path is required")
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %s", s.WriteTimeout)
	}
	if s.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size must be positive, got %d", s.MaxFrameSize)
	}
	return nil
}

// TLSConfig loads the configured key pair, or generates a self-signed
// certificate for the listen host when none is configured.
func (s Server) TLSConfig() (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if s.CertFile != "" {
		cert, err = tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}
	} else {
		cert, err = tcp.SelfSigned(selfSignedHosts(s.Addr)...)
		if err != nil {
			return nil, err
		}
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func selfSignedHosts(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		hosts = append(hosts, host)
	}
	return hosts
}

// Client configures a chat client.
type Client struct {
	Server       string
	Transport    string
	CAFile       string
	Insecure     bool
	Username     string
	MaxFrameSize int
	DialTimeout  time.Duration
	LogLevel     string
}

// DefaultClient returns the client defaults.
func DefaultClient() Client {
	return Client{
		Server:       "localhost:9000",
		Transport:    TransportTCP,
		MaxFrameSize: protocol.DefaultMaxFrameSize,
		DialTimeout:  10 * time.Second,
		LogLevel:     "warn",
	}
}

// Validate reports the first invalid setting.
func (c Client) Validate() error {
	if c.Server == "" {
		return errors.New("server address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server); err != nil {
		return fmt.Errorf("invalid server address %q: %w", c.Server, err)
	}
	if err := validateTransport(c.Transport); err != nil {
		return err
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size must be positive, got %d", c.MaxFrameSize)
	}
	return nil
}

// TLSConfig trusts CAFile when set, the system roots otherwise.
func (c Client) TLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.Insecure,
	}
	if host, _, err := net.SplitHostPort(c.Server); err == nil {
		cfg.ServerName = host
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func validateTransport(t string) error {
	switch t {
	case TransportTCP, TransportWebSocket:
		return nil
	default:
		return fmt.Errorf("unknown transport %q (want %q or %q)", t, TransportTCP, TransportWebSocket)
	}
}
