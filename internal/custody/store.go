package custody

import (
	"context"
	"time"
)

// Store is the durable record of investigations, evidence and ledger
// transactions. The durable store is the single source of truth; archival
// state and evidence rows never live in process memory.
type Store interface {
	// CreateInvestigation persists a new active investigation. Fails with
	// ErrCaseNumberTaken on a duplicate case number.
	CreateInvestigation(ctx context.Context, inv *Investigation) error

	// Investigation looks a case up by id. ErrNotFound if unknown.
	Investigation(ctx context.Context, id string) (*Investigation, error)

	// ListInvestigations returns all cases, newest first.
	ListInvestigations(ctx context.Context) ([]*Investigation, error)

	// SetArchived flips an active investigation to archived, recording the
	// actor and time. ErrAlreadyArchived if not active, ErrNotFound if
	// unknown. The status check and the flip are one atomic step.
	SetArchived(ctx context.Context, id, actorUserID string, at time.Time) error

	// SetReopened flips an archived investigation back to active with the
	// recorded reason. ErrNotArchived if not archived.
	SetReopened(ctx context.Context, id, actorUserID string, at time.Time, reason string) error

	// InsertEvidence persists an evidence row. The investigation's status is
	// checked in the same transaction: ErrInvestigationArchived if the case
	// flipped to archived since the caller last looked.
	InsertEvidence(ctx context.Context, ev *Evidence) error

	// Evidence looks an evidence record up by id. ErrNotFound if unknown.
	Evidence(ctx context.Context, id string) (*Evidence, error)

	// EvidenceByInvestigation returns all evidence under a case.
	EvidenceByInvestigation(ctx context.Context, investigationID string) ([]*Evidence, error)

	// SetColdTx records the cold-chain reference on an evidence row. Set
	// exactly once; a second call with a different ref is rejected upstream
	// by the skip-if-present archival rule.
	SetColdTx(ctx context.Context, evidenceID, txRef string) error

	// MarkEvidenceVerified flips the one-way verified flag.
	MarkEvidenceVerified(ctx context.Context, evidenceID string) error

	// RecordTransaction appends a ledger-transaction row.
	RecordTransaction(ctx context.Context, tx *LedgerTransaction) error

	// MarkTransactionVerified flips the one-way verified flag on the
	// transaction identified by its chain reference.
	MarkTransactionVerified(ctx context.Context, txRef string) error

	// UpsertPending records or refreshes a pending submission keyed by
	// investigation and digest.
	UpsertPending(ctx context.Context, p *PendingSubmission) error

	// PendingByDigest returns the pending submission for the digest within
	// the investigation, or ErrNotFound.
	PendingByDigest(ctx context.Context, investigationID, digest string) (*PendingSubmission, error)

	// DeletePending removes a reconciled pending submission.
	DeletePending(ctx context.Context, id string) error

	// ListPending returns every submission awaiting reconciliation.
	ListPending(ctx context.Context) ([]*PendingSubmission, error)
}
