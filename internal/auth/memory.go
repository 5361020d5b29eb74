package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodia.org/internal/ids"
)

// MemoryDirectory is an in-process Directory used by tests and cmd/smoke.
type MemoryDirectory struct {
	mu        sync.RWMutex
	users     map[string]*User
	byName    map[string]string
	roles     map[string][]string
	passwords map[string]string
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:     make(map[string]*User),
		byName:    make(map[string]string),
		roles:     make(map[string][]string),
		passwords: make(map[string]string),
	}
}

func (d *MemoryDirectory) Create(ctx context.Context, u *User, passwordHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if _, taken := d.byName[u.Username]; taken {
		return fmt.Errorf("%w: username %s", ErrConflict, u.Username)
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	d.users[u.ID] = &cp
	d.byName[u.Username] = u.ID
	d.passwords[u.ID] = passwordHash
	return nil
}

func (d *MemoryDirectory) Lookup(ctx context.Context, userID string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *MemoryDirectory) LookupByUsername(ctx context.Context, username string) (*User, error) {
	d.mu.RLock()
	id, ok := d.byName[username]
	d.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return d.Lookup(ctx, id)
}

func (d *MemoryDirectory) Roles(ctx context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.users[userID]; !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), d.roles[userID]...), nil
}

func (d *MemoryDirectory) AssignRole(ctx context.Context, userID, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[userID]; !ok {
		return ErrNotFound
	}
	for _, r := range d.roles[userID] {
		if r == role {
			return nil
		}
	}
	d.roles[userID] = append(d.roles[userID], role)
	return nil
}

func (d *MemoryDirectory) PasswordHash(ctx context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.users[userID]; !ok {
		return "", ErrNotFound
	}
	return d.passwords[userID], nil
}
