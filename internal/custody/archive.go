package custody

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/chain"
	"custodia.org/internal/obs"
)

// ArchiveService moves an investigation's evidence set into cold custody:
// every evidence digest is re-anchored on the cold chain, then the case
// flips to archived. Partial failure leaves the case active and the next
// attempt skips items already bearing a cold reference.
type ArchiveService struct {
	store   Store
	cold    chain.Ledger
	audits  audit.Store
	timeout time.Duration
	now     func() time.Time
}

// ArchiveOption configures an ArchiveService.
type ArchiveOption func(*ArchiveService)

// WithArchiveTimeout bounds each cold-chain call.
func WithArchiveTimeout(d time.Duration) ArchiveOption {
	return func(s *ArchiveService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithArchiveClock injects the time source.
func WithArchiveClock(now func() time.Time) ArchiveOption {
	return func(s *ArchiveService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewArchiveService constructs an ArchiveService.
func NewArchiveService(store Store, cold chain.Ledger, audits audit.Store, opts ...ArchiveOption) (*ArchiveService, error) {
	if store == nil || cold == nil {
		return nil, fmt.Errorf("%w: store and cold ledger are required", ErrInvalidInput)
	}
	s := &ArchiveService{
		store:   store,
		cold:    cold,
		audits:  audits,
		timeout: defaultCollaboratorTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ArchiveResult summarizes one archival pass.
type ArchiveResult struct {
	InvestigationID string `json:"investigation_id"`
	EvidenceTotal   int    `json:"evidence_total"`
	ColdAppended    int    `json:"cold_appended"`
	Skipped         int    `json:"skipped"`
}

// archiveMaxPasses bounds re-enumeration when submissions keep landing
// between an archival pass and the status flip.
const archiveMaxPasses = 5

// Archive re-chains every evidence digest onto the cold ledger and marks the
// investigation archived. The status flip is guarded by the store: it fails
// while any evidence row lacks a cold reference, so a submission racing the
// archival forces another pass instead of slipping through uncovered. Items
// that already carry a cold reference are skipped, so a retry after partial
// failure produces no duplicate cold transactions.
func (s *ArchiveService) Archive(ctx context.Context, actor auth.Principal, investigationID string) (*ArchiveResult, error) {
	if err := auth.Authorize(actor, auth.ActionArchive, "investigation:"+investigationID); err != nil {
		return nil, err
	}
	inv, err := s.store.Investigation(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusArchived {
		return nil, ErrAlreadyArchived
	}

	result := &ArchiveResult{InvestigationID: inv.ID}
	archived := false
	for pass := 0; pass < archiveMaxPasses && !archived; pass++ {
		evidence, err := s.store.EvidenceByInvestigation(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		result.EvidenceTotal = len(evidence)

		for _, ev := range evidence {
			if ev.ColdTxRef != "" {
				if pass == 0 {
					result.Skipped++
				}
				continue
			}
			appendCtx, cancel := context.WithTimeout(ctx, s.timeout)
			tx, err := s.cold.Append(appendCtx, inv.ID, ev.Digest, chain.Meta{
				"uploader":   ev.Uploader,
				"hot_tx_ref": ev.HotTxRef,
			})
			cancel()
			if err != nil {
				// The case stays active; the next attempt resumes here.
				if errors.Is(err, chain.ErrTimeout) {
					return nil, fmt.Errorf("%w: cold append for evidence %s", ErrPendingReconciliation, ev.ID)
				}
				return nil, fmt.Errorf("cold append for evidence %s: %w", ev.ID, err)
			}
			if err := s.store.SetColdTx(ctx, ev.ID, tx.Ref); err != nil {
				return nil, err
			}
			_ = s.store.RecordTransaction(ctx, &LedgerTransaction{
				ChainType:       ChainCold,
				InvestigationID: inv.ID,
				TxRef:           tx.Ref,
				Digest:          ev.Digest,
				BlockNumber:     tx.BlockNumber,
				Timestamp:       tx.Timestamp,
			})
			result.ColdAppended++
		}

		err = s.store.SetArchived(ctx, inv.ID, actor.User.ID, s.now().UTC())
		if errors.Is(err, ErrArchiveIncomplete) {
			// A submission landed after enumeration; cover it on the
			// next pass.
			continue
		}
		if err != nil {
			return nil, err
		}
		archived = true
	}
	if !archived {
		return nil, ErrArchiveIncomplete
	}

	obs.InvestigationsArchived.Inc()
	_ = audit.Record(ctx, s.audits, &audit.Entry{
		ActorUserID:  actor.User.ID,
		Action:       "custody.archive",
		ResourceType: "investigation",
		ResourceID:   inv.ID,
		Detail:       map[string]any{"cold_appended": result.ColdAppended, "skipped": result.Skipped},
	})
	return result, nil
}

// Reopen returns an archived case to active with a recorded reason. Cold
// transactions from the prior archival are kept; history is cumulative.
func (s *ArchiveService) Reopen(ctx context.Context, actor auth.Principal, investigationID, reason string) error {
	if err := auth.Authorize(actor, auth.ActionReopen, "investigation:"+investigationID); err != nil {
		return err
	}
	if reason == "" {
		return ErrReasonRequired
	}
	if err := s.store.SetReopened(ctx, investigationID, actor.User.ID, s.now().UTC(), reason); err != nil {
		return err
	}
	_ = audit.Record(ctx, s.audits, &audit.Entry{
		ActorUserID:  actor.User.ID,
		Action:       "custody.reopen",
		ResourceType: "investigation",
		ResourceID:   investigationID,
		Detail:       map[string]any{"reason": reason},
	})
	return nil
}
