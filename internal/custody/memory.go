package custody

import (
	"context"
	"sync"
	"time"

	"custodia.org/internal/ids"
)

// MemoryStore is an in-process Store used by tests and cmd/smoke.
type MemoryStore struct {
	mu             sync.Mutex
	investigations map[string]*Investigation
	byCase         map[string]string
	evidence       map[string]*Evidence
	txs            map[string]*LedgerTransaction // keyed by tx ref
	pending        map[string]*PendingSubmission // keyed by invID+"/"+digest
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		investigations: make(map[string]*Investigation),
		byCase:         make(map[string]string),
		evidence:       make(map[string]*Evidence),
		txs:            make(map[string]*LedgerTransaction),
		pending:        make(map[string]*PendingSubmission),
	}
}

func (s *MemoryStore) CreateInvestigation(ctx context.Context, inv *Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byCase[inv.CaseNumber]; taken {
		return ErrCaseNumberTaken
	}
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	if inv.Status == "" {
		inv.Status = StatusActive
	}
	inv.CreatedAt = time.Now().UTC()
	cp := *inv
	s.investigations[inv.ID] = &cp
	s.byCase[inv.CaseNumber] = inv.ID
	return nil
}

func (s *MemoryStore) Investigation(ctx context.Context, id string) (*Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investigations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *MemoryStore) ListInvestigations(ctx context.Context) ([]*Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Investigation, 0, len(s.investigations))
	for _, inv := range s.investigations {
		cp := *inv
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SetArchived(ctx context.Context, id, actorUserID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investigations[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status == StatusArchived {
		return ErrAlreadyArchived
	}
	// The flip is legal only when every evidence row carries a cold
	// reference; a submission that landed after the caller's enumeration
	// forces another archival pass.
	for _, ev := range s.evidence {
		if ev.InvestigationID == id && ev.ColdTxRef == "" {
			return ErrArchiveIncomplete
		}
	}
	inv.Status = StatusArchived
	inv.ArchivedBy = actorUserID
	inv.ArchivedAt = &at
	return nil
}

func (s *MemoryStore) SetReopened(ctx context.Context, id, actorUserID string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investigations[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != StatusArchived {
		return ErrNotArchived
	}
	inv.Status = StatusActive
	inv.ReopenedBy = actorUserID
	inv.ReopenedAt = &at
	inv.ReopenReason = reason
	return nil
}

func (s *MemoryStore) InsertEvidence(ctx context.Context, ev *Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investigations[ev.InvestigationID]
	if !ok {
		return ErrNotFound
	}
	if inv.Status == StatusArchived {
		return ErrInvestigationArchived
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	ev.CreatedAt = time.Now().UTC()
	cp := *ev
	s.evidence[ev.ID] = &cp
	return nil
}

func (s *MemoryStore) Evidence(ctx context.Context, id string) (*Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evidence[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) EvidenceByInvestigation(ctx context.Context, investigationID string) ([]*Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Evidence
	for _, ev := range s.evidence {
		if ev.InvestigationID == investigationID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetColdTx(ctx context.Context, evidenceID, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evidence[evidenceID]
	if !ok {
		return ErrNotFound
	}
	ev.ColdTxRef = txRef
	return nil
}

func (s *MemoryStore) MarkEvidenceVerified(ctx context.Context, evidenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evidence[evidenceID]
	if !ok {
		return ErrNotFound
	}
	ev.Verified = true
	return nil
}

func (s *MemoryStore) RecordTransaction(ctx context.Context, tx *LedgerTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = ids.New()
	}
	cp := *tx
	s.txs[tx.TxRef] = &cp
	return nil
}

func (s *MemoryStore) MarkTransactionVerified(ctx context.Context, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txRef]
	if !ok {
		return ErrNotFound
	}
	tx.Verified = true
	return nil
}

func (s *MemoryStore) UpsertPending(ctx context.Context, p *PendingSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.InvestigationID + "/" + p.Digest
	now := time.Now().UTC()
	if existing, ok := s.pending[key]; ok {
		existing.Locator = p.Locator
		existing.Stage = p.Stage
		existing.Attempts++
		existing.UpdatedAt = now
		p.ID = existing.ID
		p.Attempts = existing.Attempts
		return nil
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.Attempts = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.pending[key] = &cp
	return nil
}

func (s *MemoryStore) PendingByDigest(ctx context.Context, investigationID, digest string) (*PendingSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[investigationID+"/"+digest]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DeletePending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.pending {
		if p.ID == id {
			delete(s.pending, key)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]*PendingSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PendingSubmission
	for _, p := range s.pending {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
