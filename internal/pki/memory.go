package pki

import (
	"context"
	"sync"
	"time"

	"custodia.org/internal/ids"
)

// MemoryStore is an in-process Store used by tests and cmd/smoke.
type MemoryStore struct {
	mu          sync.Mutex
	authorities map[string]*CertificateAuthority
	certs       map[string]*Certificate
	bySerial    map[string]map[int64]string // caID -> serial -> certID
	crls        []*RevocationList
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		authorities: make(map[string]*CertificateAuthority),
		certs:       make(map[string]*Certificate),
		bySerial:    make(map[string]map[int64]string),
	}
}

func (s *MemoryStore) CreateAuthority(ctx context.Context, ca *CertificateAuthority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.authorities {
		if existing.Active {
			return ErrActiveCAExists
		}
	}
	if ca.ID == "" {
		ca.ID = ids.New()
	}
	ca.CreatedAt = time.Now().UTC()
	cp := *ca
	s.authorities[ca.ID] = &cp
	s.bySerial[ca.ID] = make(map[int64]string)
	return nil
}

func (s *MemoryStore) ActiveAuthority(ctx context.Context) (*CertificateAuthority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ca := range s.authorities {
		if ca.Active {
			cp := *ca
			return &cp, nil
		}
	}
	return nil, ErrNoActiveCA
}

func (s *MemoryStore) IssueCertificate(ctx context.Context, caID string, build func(serial int64) (*Certificate, error)) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ca, ok := s.authorities[caID]
	if !ok || !ca.Active {
		return nil, ErrNoActiveCA
	}
	serial := ca.NextSerial
	cert, err := build(serial)
	if err != nil {
		// Counter untouched on failed issuance.
		return nil, err
	}
	if cert.ID == "" {
		cert.ID = ids.New()
	}
	cert.CAID = caID
	cert.Serial = serial
	cert.CreatedAt = time.Now().UTC()
	ca.NextSerial = serial + 1
	cp := *cert
	s.certs[cert.ID] = &cp
	s.bySerial[caID][serial] = cert.ID
	return cert, nil
}

func (s *MemoryStore) Certificate(ctx context.Context, id string) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[id]
	if !ok {
		return nil, ErrCertNotFound
	}
	cp := *cert
	return &cp, nil
}

func (s *MemoryStore) CertificateBySerial(ctx context.Context, caID string, serial int64) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	serials, ok := s.bySerial[caID]
	if !ok {
		return nil, ErrCertNotFound
	}
	id, ok := serials[serial]
	if !ok {
		return nil, ErrCertNotFound
	}
	cp := *s.certs[id]
	return &cp, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, certID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certID]
	if !ok {
		return ErrCertNotFound
	}
	if cert.Revoked {
		return ErrAlreadyRevoked
	}
	cert.Revoked = true
	cert.RevokedAt = &at
	cert.RevocationReason = reason
	return nil
}

func (s *MemoryStore) RevokedCertificates(ctx context.Context, caID string) ([]*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Certificate
	for _, cert := range s.certs {
		if cert.CAID == caID && cert.Revoked {
			cp := *cert
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveCRL(ctx context.Context, crl *RevocationList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if crl.ID == "" {
		crl.ID = ids.New()
	}
	crl.CreatedAt = time.Now().UTC()
	cp := *crl
	s.crls = append(s.crls, &cp)
	return nil
}
