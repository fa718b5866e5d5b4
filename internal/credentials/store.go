// Package credentials holds registered users and verifies their passwords.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists is returned by Register when the username is taken.
	ErrUserExists = errors.New("username already exists")
	// ErrUnknownUser is returned by Authenticate for an unregistered username.
	ErrUnknownUser = errors.New("unknown user")
	// ErrBadPassword is returned by Authenticate when the password does not match.
	ErrBadPassword = errors.New("password does not match")
)

// Store is the credential store consumed by the auth gate.
// Implementations must be safe for repeated sequential calls without
// caller-side locking.
type Store interface {
	// Register adds a user. It returns ErrUserExists if username is taken.
	Register(ctx context.Context, username, password string) error
	// Authenticate checks a password. It returns ErrUnknownUser or ErrBadPassword.
	Authenticate(ctx context.Context, username, password string) error
	// Close releases the store's resources.
	Close() error
}

// hashPassword returns the bcrypt hash stored for password.
func hashPassword(password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// checkPassword maps a bcrypt mismatch to ErrBadPassword.
func checkPassword(hash []byte, password string) error {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrBadPassword
	default:
		return fmt.Errorf("failed to verify password: %w", err)
	}
}
