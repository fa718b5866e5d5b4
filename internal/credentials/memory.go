package credentials

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MemoryStore keeps bcrypt hashes in a map. Registrations are lost on exit.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string][]byte
	cost  int
}

// NewMemoryStore creates an empty MemoryStore.
// A cost of zero uses bcrypt.DefaultCost.
func NewMemoryStore(cost int) *MemoryStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &MemoryStore{users: make(map[string][]byte), cost: cost}
}

// Register implements Store.
func (m *MemoryStore) Register(ctx context.Context, username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; ok {
		return ErrUserExists
	}
	hash, err := hashPassword(password, m.cost)
	if err != nil {
		return err
	}
	m.users[username] = hash
	return nil
}

// Authenticate implements Store.
func (m *MemoryStore) Authenticate(ctx context.Context, username, password string) error {
	m.mu.Lock()
	hash, ok := m.users[username]
	m.mu.Unlock()

	if !ok {
		return ErrUnknownUser
	}
	return checkPassword(hash, password)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
