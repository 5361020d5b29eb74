package custody

import (
	"context"
	"fmt"
	"time"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/blob"
	"custodia.org/internal/chain"
)

const defaultCollaboratorTimeout = 10 * time.Second

// Service is the evidence-integrity core: investigation lifecycle, evidence
// submission against the hot chain and on-demand integrity verification.
type Service struct {
	store   Store
	blobs   blob.Store
	hot     chain.Ledger
	audits  audit.Store
	timeout time.Duration
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCollaboratorTimeout bounds each blob-store and ledger call.
func WithCollaboratorTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithServiceClock injects the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the evidence-integrity service.
func NewService(store Store, blobs blob.Store, hot chain.Ledger, audits audit.Store, opts ...ServiceOption) (*Service, error) {
	if store == nil || blobs == nil || hot == nil {
		return nil, fmt.Errorf("%w: store, blob store and hot ledger are required", ErrInvalidInput)
	}
	s := &Service{
		store:   store,
		blobs:   blobs,
		hot:     hot,
		audits:  audits,
		timeout: defaultCollaboratorTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInvestigation opens a new active case with a unique case number.
func (s *Service) CreateInvestigation(ctx context.Context, actor auth.Principal, caseNumber, title, description string) (*Investigation, error) {
	if err := auth.Authorize(actor, auth.ActionInvestigationOpen, caseNumber); err != nil {
		return nil, err
	}
	if caseNumber == "" || title == "" {
		return nil, fmt.Errorf("%w: case number and title are required", ErrInvalidInput)
	}
	inv := &Investigation{
		CaseNumber:  caseNumber,
		Title:       title,
		Description: description,
		Status:      StatusActive,
		CreatedBy:   actor.User.ID,
	}
	if err := s.store.CreateInvestigation(ctx, inv); err != nil {
		return nil, err
	}
	_ = audit.Record(ctx, s.audits, &audit.Entry{
		ActorUserID:  actor.User.ID,
		Action:       "custody.investigation.create",
		ResourceType: "investigation",
		ResourceID:   inv.ID,
	})
	return inv, nil
}

// Investigation returns a case by id.
func (s *Service) Investigation(ctx context.Context, id string) (*Investigation, error) {
	return s.store.Investigation(ctx, id)
}

// ListInvestigations returns all cases.
func (s *Service) ListInvestigations(ctx context.Context) ([]*Investigation, error) {
	return s.store.ListInvestigations(ctx)
}

// EvidenceByInvestigation lists evidence under a case. Archived cases stay
// queryable; only submission is refused.
func (s *Service) EvidenceByInvestigation(ctx context.Context, investigationID string) ([]*Evidence, error) {
	if _, err := s.store.Investigation(ctx, investigationID); err != nil {
		return nil, err
	}
	return s.store.EvidenceByInvestigation(ctx, investigationID)
}

// PendingSubmissions lists everything awaiting reconciliation, for the
// operator surface.
func (s *Service) PendingSubmissions(ctx context.Context) ([]*PendingSubmission, error) {
	return s.store.ListPending(ctx)
}
