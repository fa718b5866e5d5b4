package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/omochice/secure-socket-chat/internal/client"
	"github.com/omochice/secure-socket-chat/internal/config"
	"github.com/omochice/secure-socket-chat/internal/logging"
)

var cfg = config.DefaultClient()

var rootCmd = &cobra.Command{
	Use:   "securechat-client",
	Short: "Join a secure chat relay",
	Long: `Connect to a secure chat relay, register or log in, and chat.

Every line typed after logging in is sent to the room. Press Ctrl-D to leave.`,
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
	flags.StringVar(&cfg.Server, "server", cfg.Server, "Server address (host:port)")
	flags.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport: tcp or ws")
	flags.StringVar(&cfg.CAFile, "ca", "", "CA certificate (PEM) trusted for the server")
	flags.BoolVar(&cfg.Insecure, "insecure", false, "Skip server certificate verification")
	flags.StringVar(&cfg.Username, "username", "", "Username to prefill at the prompts")
	flags.IntVar(&cfg.MaxFrameSize, "max-frame", cfg.MaxFrameSize, "Largest accepted frame payload in bytes")
	flags.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Connection timeout")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
}

func run(ctx context.Context, cfg config.Client) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	session, err := client.Dial(dialCtx, client.Config{
		Address:      cfg.Server,
		Transport:    cfg.Transport,
		TLS:          tlsConfig,
		MaxFrameSize: cfg.MaxFrameSize,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Fprintf(os.Stderr, "Connected to %s\n", cfg.Server)

	in := bufio.NewReader(os.Stdin)
	p := newPrompter(in, os.Stderr, int(os.Stdin.Fd()))
	username, err := authenticate(ctx, session, p, cfg.Username)
	if err != nil {
		if errors.Is(err, errQuit) {
			return nil
		}
		return err
	}

	fmt.Fprintf(os.Stderr, "Logged in as %s. Type messages and press Enter; Ctrl-D to leave.\n", username)
	err = session.Run(ctx, in, newNoticeWriter(color.Output))
	if errors.Is(err, client.ErrServerClosed) {
		fmt.Fprintln(os.Stderr, "Server closed the connection")
		return nil
	}
	return err
}
