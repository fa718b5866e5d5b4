package client_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/omochice/secure-socket-chat/internal/client"
	"github.com/omochice/secure-socket-chat/internal/config"
	"github.com/omochice/secure-socket-chat/internal/credentials"
	"github.com/omochice/secure-socket-chat/internal/server"
	"github.com/omochice/secure-socket-chat/internal/transport/tcp"
	"github.com/omochice/secure-socket-chat/internal/transport/ws"
	"github.com/omochice/secure-socket-chat/pkg/protocol"
)

// startRelay serves a relay over transport and returns a dial config for it.
func startRelay(t *testing.T, transport string) client.Config {
	t.Helper()
	cert, err := tcp.SelfSigned("127.0.0.1", "localhost")
	require.NoError(t, err)
	serverTLS := &tls.Config{Certificates: []tls.Certificate{cert}}

	log := zaptest.NewLogger(t)
	var ln net.Listener
	switch transport {
	case config.TransportWebSocket:
		ln, err = ws.Listen("127.0.0.1:0", serverTLS, log)
	default:
		ln, err = tcp.Listen("127.0.0.1:0", serverTLS, log)
	}
	require.NoError(t, err)

	srv := server.New(ln, credentials.NewMemoryStore(bcrypt.MinCost), server.WithLogger(log))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return client.Config{
		Address:   srv.Addr(),
		Transport: transport,
		TLS:       &tls.Config{RootCAs: tcp.CertPool(cert), ServerName: "localhost"},
		Logger:    log,
	}
}

func dial(t *testing.T, cfg client.Config) *client.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := client.Dial(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDial_RequiresTLS(t *testing.T) {
	_, err := client.Dial(context.Background(), client.Config{Address: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestDial_UnknownTransport(t *testing.T) {
	_, err := client.Dial(context.Background(), client.Config{
		Address:   "127.0.0.1:1",
		Transport: "carrier-pigeon",
		TLS:       &tls.Config{},
	})
	assert.ErrorContains(t, err, "unknown transport")
}

func TestSession_RegisterAndLogin(t *testing.T) {
	for _, transport := range []string{config.TransportTCP, config.TransportWebSocket} {
		t.Run(transport, func(t *testing.T) {
			cfg := startRelay(t, transport)
			s := dial(t, cfg)
			ctx := context.Background()

			outcome, err := s.Register(ctx, "alice", "pw1")
			require.NoError(t, err)
			assert.Equal(t, protocol.OutcomeRegistered, outcome)

			outcome, err = s.Register(ctx, "alice", "pw2")
			require.NoError(t, err)
			assert.Equal(t, protocol.OutcomeUserExists, outcome)

			outcome, err = s.Login(ctx, "alice", "nope")
			require.NoError(t, err)
			assert.Equal(t, protocol.OutcomeInvalidCredentials, outcome)

			outcome, err = s.Login(ctx, "alice", "pw1")
			require.NoError(t, err)
			assert.Equal(t, protocol.OutcomeLoggedIn, outcome)
		})
	}
}

func TestSession_LoginHonoursContext(t *testing.T) {
	// A listener that completes TLS but never answers.
	cert, err := tcp.SelfSigned("127.0.0.1", "localhost")
	require.NoError(t, err)
	ln, err := tcp.Listen("127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	}()

	s := dial(t, client.Config{
		Address: ln.Addr().String(),
		TLS:     &tls.Config{RootCAs: tcp.CertPool(cert), ServerName: "localhost"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Login(ctx, "alice", "pw1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_Run(t *testing.T) {
	for _, transport := range []string{config.TransportTCP, config.TransportWebSocket} {
		t.Run(transport, func(t *testing.T) {
			cfg := startRelay(t, transport)
			ctx := context.Background()

			alice := dial(t, cfg)
			_, err := alice.Register(ctx, "alice", "pw1")
			require.NoError(t, err)
			outcome, err := alice.Login(ctx, "alice", "pw1")
			require.NoError(t, err)
			require.Equal(t, protocol.OutcomeLoggedIn, outcome)

			bob := dial(t, cfg)
			_, err = bob.Register(ctx, "bob", "pw2")
			require.NoError(t, err)
			outcome, err = bob.Login(ctx, "bob", "pw2")
			require.NoError(t, err)
			require.Equal(t, protocol.OutcomeLoggedIn, outcome)

			aliceIn, aliceInput := io.Pipe()
			aliceOut, aliceOutput := io.Pipe()
			aliceDone := make(chan error, 1)
			go func() { aliceDone <- alice.Run(ctx, aliceIn, aliceOutput) }()

			bobIn, bobInput := io.Pipe()
			bobOut, bobOutput := io.Pipe()
			bobDone := make(chan error, 1)
			go func() { bobDone <- bob.Run(ctx, bobIn, bobOutput) }()

			aliceLines := bufio.NewScanner(aliceOut)
			bobLines := bufio.NewScanner(bobOut)

			// Bob's join notice is already queued on alice's stream.
			_, err = io.WriteString(aliceInput, "hi\n\n")
			require.NoError(t, err)
			require.True(t, bobLines.Scan())
			assert.Equal(t, "alice: hi", bobLines.Text())

			_, err = io.WriteString(bobInput, "hello alice\n")
			require.NoError(t, err)
			require.True(t, aliceLines.Scan())
			assert.Equal(t, "[Server: bob joined the chat]", aliceLines.Text())
			require.True(t, aliceLines.Scan())
			assert.Equal(t, "bob: hello alice", aliceLines.Text())

			// EOF on bob's input ends his session cleanly.
			require.NoError(t, bobInput.Close())
			select {
			case err := <-bobDone:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("bob's session did not end on input EOF")
			}

			require.True(t, aliceLines.Scan())
			assert.Equal(t, "[Server: bob left the chat]", aliceLines.Text())

			require.NoError(t, aliceInput.Close())
			select {
			case err := <-aliceDone:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("alice's session did not end on input EOF")
			}
		})
	}
}

func TestSession_RunEndsWhenServerCloses(t *testing.T) {
	cert, err := tcp.SelfSigned("127.0.0.1", "localhost")
	require.NoError(t, err)
	ln, err := tcp.Listen("127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = protocol.WriteFrame(conn, []byte("[Server: bye]"))
		conn.Close()
	}()

	s := dial(t, client.Config{
		Address: ln.Addr().String(),
		TLS:     &tls.Config{RootCAs: tcp.CertPool(cert), ServerName: "localhost"},
	})

	in, _ := io.Pipe()
	var out strings.Builder
	err = s.Run(context.Background(), in, &out)
	assert.ErrorIs(t, err, client.ErrServerClosed)
	assert.Equal(t, "[Server: bye]\n", out.String())
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	cfg := startRelay(t, config.TransportTCP)
	s := dial(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	in, _ := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, in, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
