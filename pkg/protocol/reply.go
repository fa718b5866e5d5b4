package protocol

import "fmt"

// Outcome is the server's answer to an authentication command.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeRegistered
	OutcomeUserExists
	OutcomeLoggedIn
	OutcomeInvalidCredentials
	OutcomeAlreadyLoggedIn
	OutcomeMalformed
	OutcomeFailed
)

var outcomeText = map[Outcome]string{
	OutcomeRegistered:         "Registration Success",
	OutcomeUserExists:         "Registration Failed: Username has already been taken",
	OutcomeLoggedIn:           "Log In Success",
	OutcomeInvalidCredentials: "Log In Failed: Invalid credentials",
	OutcomeAlreadyLoggedIn:    "Log In Failed: User already logged in",
	OutcomeMalformed:          "Malformed Command",
	OutcomeFailed:             "Request Failed",
}

// String returns the reply text carried on the wire.
func (o Outcome) String() string {
	if s, ok := outcomeText[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// Success reports whether the outcome completed the requested command.
func (o Outcome) Success() bool {
	return o == OutcomeRegistered || o == OutcomeLoggedIn
}

// Payload returns the frame payload for the outcome.
func (o Outcome) Payload() []byte {
	return []byte(o.String())
}

// ParseOutcome maps a reply payload back to its Outcome.
func ParseOutcome(payload []byte) (Outcome, error) {
	s := string(payload)
	for o, text := range outcomeText {
		if text == s {
			return o, nil
		}
	}
	return OutcomeUnknown, fmt.Errorf("unexpected reply %q", s)
}

// JoinNotice is broadcast when username enters the room.
func JoinNotice(username string) []byte {
	return []byte(fmt.Sprintf("[Server: %s joined the chat]", username))
}

// LeaveNotice is broadcast when username leaves the room.
func LeaveNotice(username string) []byte {
	return []byte(fmt.Sprintf("[Server: %s left the chat]", username))
}

// ChatLine prefixes a broadcast payload with its sender.
func ChatLine(sender string, payload []byte) []byte {
	out := make([]byte, 0, len(sender)+2+len(payload))
	out = append(out, sender...)
	out = append(out, ": "...)
	return append(out, payload...)
}
