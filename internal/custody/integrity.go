package custody

import (
	"context"
	"errors"
	"fmt"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/blob"
	"custodia.org/internal/chain"
	"custodia.org/internal/obs"
)

// SubmitRequest carries one evidence upload.
type SubmitRequest struct {
	InvestigationID string
	Uploader        string // real user id or GUID
	FileName        string
	MIMEType        string
	Content         []byte
}

// Submit hashes the content, stores it with the blob collaborator, anchors
// the digest on the hot chain and persists the evidence record. The three
// collaborator steps are not atomic: a timeout parks the submission as
// pending and a retry with the same bytes resumes from the failed step,
// keyed on the digest. Exactly one evidence row results.
func (s *Service) Submit(ctx context.Context, actor auth.Principal, req SubmitRequest) (*Evidence, error) {
	if err := auth.Authorize(actor, auth.ActionEvidenceSubmit, "investigation:"+req.InvestigationID); err != nil {
		return nil, err
	}
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if req.Uploader == "" {
		req.Uploader = actor.User.ID
	}

	inv, err := s.store.Investigation(ctx, req.InvestigationID)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusArchived {
		return nil, ErrInvestigationArchived
	}

	digest := blob.Digest(req.Content)

	// A prior attempt may have parked this digest; resume from its locator
	// instead of starting over.
	var resumed *PendingSubmission
	if p, err := s.store.PendingByDigest(ctx, inv.ID, digest); err == nil {
		resumed = p
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	locator := ""
	if resumed != nil {
		locator = resumed.Locator
	}
	if locator == "" {
		putCtx, cancel := context.WithTimeout(ctx, s.timeout)
		locator, err = s.blobs.Put(putCtx, req.Content)
		cancel()
		if err != nil {
			if errors.Is(err, blob.ErrTimeout) {
				return nil, s.park(ctx, inv.ID, digest, "", StageBlob, req)
			}
			return nil, err
		}
	}

	appendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	tx, err := s.hot.Append(appendCtx, inv.ID, digest, chain.Meta{
		"uploader":    req.Uploader,
		"file_name":   req.FileName,
		"case_number": inv.CaseNumber,
	})
	cancel()
	if err != nil {
		if errors.Is(err, chain.ErrTimeout) {
			return nil, s.park(ctx, inv.ID, digest, locator, StageChain, req)
		}
		return nil, err
	}

	ev := &Evidence{
		InvestigationID: inv.ID,
		Digest:          digest,
		Locator:         locator,
		Uploader:        req.Uploader,
		FileName:        req.FileName,
		FileSize:        int64(len(req.Content)),
		MIMEType:        req.MIMEType,
		HotTxRef:        tx.Ref,
	}
	if err := s.store.InsertEvidence(ctx, ev); err != nil {
		return nil, err
	}
	_ = s.store.RecordTransaction(ctx, &LedgerTransaction{
		ChainType:       ChainHot,
		InvestigationID: inv.ID,
		TxRef:           tx.Ref,
		Digest:          digest,
		BlockNumber:     tx.BlockNumber,
		Timestamp:       tx.Timestamp,
	})
	if resumed != nil {
		_ = s.store.DeletePending(ctx, resumed.ID)
	}

	obs.EvidenceSubmitted.Inc()
	_ = audit.Record(ctx, s.audits, &audit.Entry{
		ActorUserID:  actor.User.ID,
		Action:       "custody.evidence.submit",
		ResourceType: "evidence",
		ResourceID:   ev.ID,
		Detail:       map[string]any{"digest": digest, "uploader": req.Uploader},
	})
	return ev, nil
}

// park records a submission whose collaborator call returned an unknown
// outcome. The caller retries with the same bytes; the digest key keeps the
// retry idempotent.
func (s *Service) park(ctx context.Context, investigationID, digest, locator, stage string, req SubmitRequest) error {
	p := &PendingSubmission{
		InvestigationID: investigationID,
		Digest:          digest,
		Locator:         locator,
		Uploader:        req.Uploader,
		FileName:        req.FileName,
		FileSize:        int64(len(req.Content)),
		MIMEType:        req.MIMEType,
		Stage:           stage,
	}
	if err := s.store.UpsertPending(ctx, p); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s call timed out", ErrPendingReconciliation, stage)
}

// Comparison labels reported on a failed verification.
const (
	CompareBlob  = "blob"
	CompareChain = "chain"
)

// VerificationResult reports the three-way digest comparison. A mismatch is
// a tamper signal for operator escalation, never auto-corrected.
type VerificationResult struct {
	EvidenceID   string   `json:"evidence_id"`
	Verified     bool     `json:"verified"`
	StoredDigest string   `json:"stored_digest"`
	BlobDigest   string   `json:"blob_digest"`
	ChainDigest  string   `json:"chain_digest"`
	Mismatches   []string `json:"mismatches,omitempty"`
}

// Verify cross-checks the stored digest against what the blob store reports
// for the locator and what the hot chain recorded in the transaction. All
// three must match; a pass flips the one-way verified flags.
func (s *Service) Verify(ctx context.Context, actor auth.Principal, evidenceID string) (*VerificationResult, error) {
	if err := auth.Authorize(actor, auth.ActionEvidenceVerify, "evidence:"+evidenceID); err != nil {
		return nil, err
	}
	ev, err := s.store.Evidence(ctx, evidenceID)
	if err != nil {
		return nil, err
	}

	hashCtx, cancel := context.WithTimeout(ctx, s.timeout)
	blobDigest, err := s.blobs.HashOf(hashCtx, ev.Locator)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("blob hash lookup: %w", err)
	}
	getCtx, cancel := context.WithTimeout(ctx, s.timeout)
	tx, err := s.hot.Get(getCtx, ev.HotTxRef)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("chain transaction lookup: %w", err)
	}

	result := &VerificationResult{
		EvidenceID:   ev.ID,
		StoredDigest: ev.Digest,
		BlobDigest:   blobDigest,
		ChainDigest:  tx.Digest,
	}
	if blobDigest != ev.Digest {
		result.Mismatches = append(result.Mismatches, CompareBlob)
	}
	if tx.Digest != ev.Digest {
		result.Mismatches = append(result.Mismatches, CompareChain)
	}
	result.Verified = len(result.Mismatches) == 0

	outcome := "mismatch"
	if result.Verified {
		outcome = "ok"
		if err := s.store.MarkEvidenceVerified(ctx, ev.ID); err != nil {
			return nil, err
		}
		_ = s.store.MarkTransactionVerified(ctx, ev.HotTxRef)
	}
	obs.EvidenceVerifications.WithLabelValues(outcome).Inc()
	_ = audit.Record(ctx, s.audits, &audit.Entry{
		ActorUserID:  actor.User.ID,
		Action:       "custody.evidence.verify",
		ResourceType: "evidence",
		ResourceID:   ev.ID,
		Detail:       map[string]any{"outcome": outcome},
	})
	return result, nil
}
