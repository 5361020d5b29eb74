package anon

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"custodia.org/internal/ids"
)

// MemoryStore is an in-process Store used by tests and cmd/smoke.
type MemoryStore struct {
	mu          sync.Mutex
	mappings    map[string]*Mapping
	resolutions []*Resolution
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mappings: make(map[string]*Mapping)}
}

func (s *MemoryStore) CreateMapping(ctx context.Context, m *Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.mappings[m.GUID] = &cp
	return nil
}

func (s *MemoryStore) MappingByGUID(ctx context.Context, guid string) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[guid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) AppendResolution(ctx context.Context, r *Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	cp := *r
	s.resolutions = append(s.resolutions, &cp)
	return nil
}

func (s *MemoryStore) ResolutionsByGUID(ctx context.Context, guid string) ([]*Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Resolution
	for _, r := range s.resolutions {
		if r.GUID == guid {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreateMapping(ctx context.Context, m *Mapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into guid_mappings(guid, user_id, created_at) values($1,$2,$3)`,
		m.GUID, m.UserID, m.CreatedAt,
	)
	return err
}

func (s *PGStore) MappingByGUID(ctx context.Context, guid string) (*Mapping, error) {
	var m Mapping
	err := s.db.QueryRowContext(ctx,
		`select guid, user_id, created_at from guid_mappings where guid=$1`, guid).
		Scan(&m.GUID, &m.UserID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PGStore) AppendResolution(ctx context.Context, r *Resolution) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into resolution_audit(id, guid, actor_user_id, reason, occurred_at)
		 values($1,$2,$3,$4,$5)`,
		r.ID, r.GUID, r.ActorUserID, r.Reason, r.OccurredAt,
	)
	return err
}

func (s *PGStore) ResolutionsByGUID(ctx context.Context, guid string) ([]*Resolution, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, guid, actor_user_id, reason, occurred_at
		 from resolution_audit where guid=$1 order by occurred_at asc`, guid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Resolution
	for rows.Next() {
		var r Resolution
		if err := rows.Scan(&r.ID, &r.GUID, &r.ActorUserID, &r.Reason, &r.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
