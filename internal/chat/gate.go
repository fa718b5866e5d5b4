package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/omochice/secure-socket-chat/internal/credentials"
	"github.com/omochice/secure-socket-chat/pkg/protocol"
)

// Decision is the auth gate's verdict on one frame from an unauthenticated
// connection. The caller performs every write it implies.
type Decision struct {
	// Reply is sent back to the connection that issued the command.
	Reply protocol.Outcome
	// Joined is set when the connection just entered the room.
	Joined bool
	// Fatal is set when the connection must be closed.
	Fatal error
}

// Gate is the state machine applied to a connection until it authenticates.
// Failed commands never close the connection; the peer may retry.
type Gate struct {
	store    credentials.Store
	registry *Registry
	log      *zap.Logger
}

// NewGate creates a Gate backed by store that records logins in registry.
func NewGate(store credentials.Store, registry *Registry, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{store: store, registry: registry, log: log}
}

// Handle applies one frame from an unauthenticated connection.
func (g *Gate) Handle(ctx context.Context, c *Connection, payload []byte) Decision {
	log := g.log.With(zap.String("conn", c.ID), zap.String("remote", c.RemoteAddr))

	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		log.Debug("rejected malformed command", zap.Error(err))
		return Decision{Reply: protocol.OutcomeMalformed}
	}
	log = log.With(zap.Stringer("verb", cmd.Verb), zap.String("user", cmd.Username))

	switch cmd.Verb {
	case protocol.VerbRegister:
		return g.register(ctx, log, cmd)
	case protocol.VerbLogin:
		return g.login(ctx, log, c, cmd)
	default:
		return Decision{Reply: protocol.OutcomeMalformed}
	}
}

func (g *Gate) register(ctx context.Context, log *zap.Logger, cmd protocol.Command) Decision {
	err := g.store.Register(ctx, cmd.Username, cmd.Password)
	switch {
	case err == nil:
		log.Info("user registered")
		return Decision{Reply: protocol.OutcomeRegistered}
	case errors.Is(err, credentials.ErrUserExists):
		log.Info("registration rejected: username taken")
		return Decision{Reply: protocol.OutcomeUserExists}
	default:
		log.Error("credential store failed", zap.Error(err))
		return Decision{Reply: protocol.OutcomeFailed}
	}
}

func (g *Gate) login(ctx context.Context, log *zap.Logger, c *Connection, cmd protocol.Command) Decision {
	// A wrong password is reported as invalid credentials even when the
	// user is online.
	err := g.store.Authenticate(ctx, cmd.Username, cmd.Password)
	switch {
	case err == nil:
	case errors.Is(err, credentials.ErrUnknownUser), errors.Is(err, credentials.ErrBadPassword):
		log.Info("login rejected", zap.Error(err))
		return Decision{Reply: protocol.OutcomeInvalidCredentials}
	default:
		log.Error("credential store failed", zap.Error(err))
		return Decision{Reply: protocol.OutcomeFailed}
	}

	if g.registry.Active(cmd.Username) {
		log.Info("login rejected: user already logged in")
		return Decision{Reply: protocol.OutcomeAlreadyLoggedIn}
	}

	if err := g.registry.MarkAuthenticated(c.ID, cmd.Username); err != nil {
		log.Error("registry refused login", zap.Error(err))
		return Decision{Reply: protocol.OutcomeFailed, Fatal: err}
	}
	log.Info("user logged in")
	return Decision{Reply: protocol.OutcomeLoggedIn, Joined: true}
}
