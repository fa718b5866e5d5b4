package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/omochice/secure-socket-chat/internal/config"
	"github.com/omochice/secure-socket-chat/internal/credentials"
	"github.com/omochice/secure-socket-chat/internal/logging"
	"github.com/omochice/secure-socket-chat/internal/server"
	"github.com/omochice/secure-socket-chat/internal/transport/tcp"
	"github.com/omochice/secure-socket-chat/internal/transport/unified"
	"github.com/omochice/secure-socket-chat/internal/transport/ws"
)

var cfg = config.DefaultServer()

var rootCmd = &cobra.Command{
	Use:   "securechat-server",
	Short: "Run the secure chat relay",
	Long: `Run the secure chat relay.

Clients connect over TLS (--transport tcp), WebSocket over TLS
(--transport ws) or either on the same port (--transport auto), register or
log in, and then exchange lines with every other logged-in client.

Without --cert and --key a self-signed certificate is generated at startup.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to listen on")
	flags.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport: tcp, ws or auto")
	flags.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (PEM)")
	flags.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (PEM)")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite credential database, or :memory:")
	flags.IntVar(&cfg.BcryptCost, "bcrypt-cost", 0, "bcrypt cost for new passwords (0 for the library default)")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for a single write to a client")
	flags.IntVar(&cfg.MaxFrameSize, "max-frame", cfg.MaxFrameSize, "Largest accepted frame payload in bytes")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flags.BoolVar(&cfg.Development, "dev", false, "Human-readable development logging")
}

func run(ctx context.Context, cfg config.Server) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return err
	}
	if cfg.CertFile == "" {
		log.Warn("no certificate configured, using a self-signed one")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	ln, err := listen(cfg, tlsConfig, log)
	if err != nil {
		return err
	}

	srv := server.New(ln, store,
		server.WithLogger(log),
		server.WithWriteTimeout(cfg.WriteTimeout),
		server.WithMaxFrameSize(cfg.MaxFrameSize),
	)
	log.Info("accepting connections",
		zap.String("addr", srv.Addr()),
		zap.String("transport", cfg.Transport),
		zap.String("db", cfg.DBPath))
	return srv.Serve(ctx)
}

// openStore opens the credential store named by cfg.DBPath.
func openStore(cfg config.Server) (credentials.Store, error) {
	if cfg.DBPath == ":memory:" {
		return credentials.NewMemoryStore(cfg.BcryptCost), nil
	}
	store, err := credentials.OpenSQLite(cfg.DBPath, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return store, nil
}

// listen opens the listener for cfg.Transport.
func listen(cfg config.Server, tlsConfig *tls.Config, log *zap.Logger) (net.Listener, error) {
	switch cfg.Transport {
	case config.TransportTCP:
		return tcp.Listen(cfg.Addr, tlsConfig, log)
	case config.TransportWebSocket:
		return ws.Listen(cfg.Addr, tlsConfig, log)
	case config.TransportAuto:
		return unified.Listen(cfg.Addr, tlsConfig, ws.DefaultHandshakeTimeout, log)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
