package main

import (
	"context"
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/omochice/secure-socket-chat/internal/config"
	"github.com/omochice/secure-socket-chat/internal/credentials"
)

func TestOpenStore(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.BcryptCost = bcrypt.MinCost

	cfg.DBPath = ":memory:"
	store, err := openStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &credentials.MemoryStore{}, store)
	require.NoError(t, store.Close())

	cfg.DBPath = filepath.Join(t.TempDir(), "users.db")
	store, err = openStore(cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &credentials.SQLiteStore{}, store)
	require.NoError(t, store.Register(context.Background(), "alice", "pw1"))
}

func TestListen(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.Addr = "127.0.0.1:0"
	tlsConfig, err := cfg.TLSConfig()
	require.NoError(t, err)

	for _, transport := range []string{config.TransportTCP, config.TransportWebSocket, config.TransportAuto} {
		t.Run(transport, func(t *testing.T) {
			cfg.Transport = transport
			ln, err := listen(cfg, tlsConfig, zaptest.NewLogger(t))
			require.NoError(t, err)
			assert.NotEmpty(t, ln.Addr().String())
			require.NoError(t, ln.Close())
		})
	}

	cfg.Transport = "quic"
	_, err = listen(cfg, &tls.Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.Transport = "quic"
	assert.Error(t, run(context.Background(), cfg))
}
