package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/omochice/secure-socket-chat/pkg/protocol"
)

// errQuit is returned when the user leaves the menu without logging in.
var errQuit = errors.New("quit")

// authenticator is the part of a session the menu drives.
type authenticator interface {
	Register(ctx context.Context, username, password string) (protocol.Outcome, error)
	Login(ctx context.Context, username, password string) (protocol.Outcome, error)
}

// prompter reads answers from in and writes prompts to out. Passwords are
// read without echo when fd is a terminal.
type prompter struct {
	in       *bufio.Reader
	out      io.Writer
	fd       int
	terminal bool
}

func newPrompter(in *bufio.Reader, out io.Writer, fd int) *prompter {
	return &prompter{in: in, out: out, fd: fd, terminal: term.IsTerminal(fd)}
}

// line prints prompt and returns the next trimmed input line.
func (p *prompter) line(prompt string) (string, error) {
	text, err := p.raw(prompt)
	return strings.TrimSpace(text), err
}

// raw prints prompt and returns the next input line without its line ending.
func (p *prompter) raw(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	text, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && text != "" {
			return strings.TrimRight(text, "\r\n"), nil
		}
		if errors.Is(err, io.EOF) {
			return "", errQuit
		}
		return "", err
	}
	return strings.TrimRight(text, "\r\n"), nil
}

// password reads a password verbatim; only the line ending is removed.
func (p *prompter) password(prompt string) (string, error) {
	if !p.terminal {
		return p.raw(prompt)
	}
	fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *prompter) credentials(defaultUser string) (string, string, error) {
	username := defaultUser
	prompt := "Username: "
	if defaultUser != "" {
		prompt = fmt.Sprintf("Username [%s]: ", defaultUser)
	}
	answer, err := p.line(prompt)
	if err != nil {
		return "", "", err
	}
	if answer != "" {
		username = answer
	}
	if username == "" {
		return "", "", nil
	}
	password, err := p.password("Password: ")
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

// authenticate runs the register/login menu until the session is logged in
// and returns the username.
func authenticate(ctx context.Context, auth authenticator, p *prompter, defaultUser string) (string, error) {
	for {
		fmt.Fprintln(p.out, "1) Register  2) Log in  3) Quit")
		choice, err := p.line("> ")
		if err != nil {
			return "", err
		}

		switch choice {
		case "1", "r", "register":
			username, password, err := p.credentials(defaultUser)
			if err != nil {
				return "", err
			}
			if username == "" {
				fmt.Fprintln(p.out, "Username must not be empty")
				continue
			}
			outcome, err := auth.Register(ctx, username, password)
			if err != nil {
				return "", err
			}
			fmt.Fprintln(p.out, outcomeText(outcome))
			if !outcome.Success() {
				continue
			}
			defaultUser = username

			answer, err := p.line("Log in now? [y/N] ")
			if err != nil {
				return "", err
			}
			if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
				continue
			}
			ok, err := login(ctx, auth, p, username, password)
			if err != nil {
				return "", err
			}
			if ok {
				return username, nil
			}

		case "2", "l", "login":
			username, password, err := p.credentials(defaultUser)
			if err != nil {
				return "", err
			}
			if username == "" {
				fmt.Fprintln(p.out, "Username must not be empty")
				continue
			}
			ok, err := login(ctx, auth, p, username, password)
			if err != nil {
				return "", err
			}
			if ok {
				return username, nil
			}
			defaultUser = username

		case "3", "q", "quit", "exit":
			return "", errQuit

		default:
			fmt.Fprintf(p.out, "Unknown choice %q\n", choice)
		}
	}
}

func login(ctx context.Context, auth authenticator, p *prompter, username, password string) (bool, error) {
	outcome, err := auth.Login(ctx, username, password)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(p.out, outcomeText(outcome))
	return outcome == protocol.OutcomeLoggedIn, nil
}

func outcomeText(o protocol.Outcome) string {
	if o.Success() {
		return color.GreenString(o.String())
	}
	return color.RedString(o.String())
}
