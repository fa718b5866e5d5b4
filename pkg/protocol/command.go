// Package protocol defines the wire format shared by the relay and its clients:
// varint length-prefixed frames, tagged authentication commands, and the
// fixed set of outcome replies.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Verb identifies an authentication command.
type Verb int

const (
	VerbUnknown Verb = iota
	VerbRegister
	VerbLogin
)

// String returns the string representation of Verb
func (v Verb) String() string {
	switch v {
	case VerbRegister:
		return "REGISTER"
	case VerbLogin:
		return "LOGIN"
	default:
		return "UNKNOWN"
	}
}

// Field numbers of the command record.
const (
	fieldVerb     protowire.Number = 1
	fieldUsername protowire.Number = 2
	fieldPassword protowire.Number = 3
)

// ErrMalformedCommand is returned when a frame does not carry a valid command.
var ErrMalformedCommand = errors.New("malformed command")

// Command is a tagged authentication request sent by an unauthenticated peer.
type Command struct {
	Verb     Verb
	Username string
	Password string
}

// Register builds a REGISTER command.
func Register(username, password string) Command {
	return Command{Verb: VerbRegister, Username: username, Password: password}
}

// Login builds a LOGIN command.
func Login(username, password string) Command {
	return Command{Verb: VerbLogin, Username: username, Password: password}
}

// Encode encodes the command as a protobuf wire record.
// Usernames and passwords are length-delimited, so any byte is allowed.
func (c Command) Encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVerb, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Verb))
	b = protowire.AppendTag(b, fieldUsername, protowire.BytesType)
	b = protowire.AppendString(b, c.Username)
	b = protowire.AppendTag(b, fieldPassword, protowire.BytesType)
	b = protowire.AppendString(b, c.Password)
	return b
}

// DecodeCommand parses a command record. Unknown fields are skipped.
// A record with an unknown verb or an empty username is malformed.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldVerb && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, protowire.ParseError(m))
			}
			c.Verb = verbFromWire(v)
			n = m
		case num == fieldUsername && typ == protowire.BytesType:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, protowire.ParseError(m))
			}
			c.Username = s
			n = m
		case num == fieldPassword && typ == protowire.BytesType:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, protowire.ParseError(m))
			}
			c.Password = s
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}

	if c.Verb == VerbUnknown {
		return Command{}, fmt.Errorf("%w: unknown verb", ErrMalformedCommand)
	}
	if c.Username == "" {
		return Command{}, fmt.Errorf("%w: empty username", ErrMalformedCommand)
	}
	return c, nil
}

// verbFromWire maps unrecognised values to VerbUnknown.
func verbFromWire(v uint64) Verb {
	switch Verb(v) {
	case VerbRegister:
		return VerbRegister
	case VerbLogin:
		return VerbLogin
	default:
		return VerbUnknown
	}
}
