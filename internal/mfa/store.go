package mfa

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// SecretStore holds confirmed authenticator secrets. A secret only lands
// here after the user has proven possession with a valid code.
type SecretStore interface {
	// Secret returns the confirmed secret for the user or ErrNotEnrolled.
	Secret(ctx context.Context, userID string) (string, error)

	// Save records a confirmed secret, replacing any previous one.
	Save(ctx context.Context, userID, secret string) error
}

// MemorySecretStore is an in-process SecretStore for tests and cmd/smoke.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

var _ SecretStore = (*MemorySecretStore)(nil)

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]string)}
}

func (s *MemorySecretStore) Secret(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[userID]
	if !ok {
		return "", ErrNotEnrolled
	}
	return secret, nil
}

func (s *MemorySecretStore) Save(ctx context.Context, userID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[userID] = secret
	return nil
}

// PGSecretStore implements SecretStore on PostgreSQL.
type PGSecretStore struct {
	db *sql.DB
}

var _ SecretStore = (*PGSecretStore)(nil)

func NewPGSecretStore(db *sql.DB) *PGSecretStore {
	return &PGSecretStore{db: db}
}

func (s *PGSecretStore) Secret(ctx context.Context, userID string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx,
		`select secret from mfa_secrets where user_id=$1`, userID).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotEnrolled
	}
	if err != nil {
		return "", err
	}
	return secret, nil
}

func (s *PGSecretStore) Save(ctx context.Context, userID, secret string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into mfa_secrets(user_id, secret, confirmed_at) values($1,$2,$3)
		 on conflict (user_id) do update set secret=excluded.secret, confirmed_at=excluded.confirmed_at`,
		userID, secret, time.Now().UTC(),
	)
	return err
}

// pendingStore keeps not-yet-confirmed secrets in process memory with a
// setup deadline. A pending secret that is never confirmed simply ages out;
// nothing durable is written until confirmation.
type pendingStore struct {
	mu  sync.Mutex
	m   map[string]pendingSecret
	ttl time.Duration
	now func() time.Time
}

type pendingSecret struct {
	secret  string
	expires time.Time
}

func newPendingStore(ttl time.Duration, now func() time.Time) *pendingStore {
	return &pendingStore{m: make(map[string]pendingSecret), ttl: ttl, now: now}
}

func (p *pendingStore) put(userID, secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[userID] = pendingSecret{secret: secret, expires: p.now().Add(p.ttl)}
}

func (p *pendingStore) get(userID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps, ok := p.m[userID]
	if !ok {
		return "", false
	}
	if p.now().After(ps.expires) {
		delete(p.m, userID)
		return "", false
	}
	return ps.secret, true
}

func (p *pendingStore) drop(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, userID)
}
