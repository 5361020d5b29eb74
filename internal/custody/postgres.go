package custody

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"custodia.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreateInvestigation(ctx context.Context, inv *Investigation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var taken int
	if err := tx.QueryRowContext(ctx,
		`select count(1) from investigations where case_number=$1`, inv.CaseNumber).Scan(&taken); err != nil {
		return err
	}
	if taken > 0 {
		return ErrCaseNumberTaken
	}

	if inv.ID == "" {
		inv.ID = ids.New()
	}
	if inv.Status == "" {
		inv.Status = StatusActive
	}
	inv.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`insert into investigations(id, case_number, title, description, status, created_by, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		inv.ID, inv.CaseNumber, inv.Title, inv.Description, inv.Status, inv.CreatedBy, inv.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const invColumns = `id, case_number, title, description, status, created_by, created_at, archived_by, archived_at, reopened_by, reopened_at, reopen_reason`

func (s *PGStore) Investigation(ctx context.Context, id string) (*Investigation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+invColumns+` from investigations where id=$1`, id)
	inv, err := scanInvestigation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

func (s *PGStore) ListInvestigations(ctx context.Context) ([]*Investigation, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+invColumns+` from investigations order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *PGStore) SetArchived(ctx context.Context, id, actorUserID string, at time.Time) error {
	return s.transition(ctx, id, StatusActive, ErrAlreadyArchived, func(tx *sql.Tx) error {
		// Guarded flip: refuse while any evidence row lacks a cold
		// reference, so a submission committing after the caller's
		// enumeration cannot be archived without a cold counterpart.
		res, err := tx.ExecContext(ctx,
			`update investigations set status=$2, archived_by=$3, archived_at=$4
			 where id=$1
			   and not exists (select 1 from evidence where investigation_id=$1 and cold_tx_ref is null)`,
			id, StatusArchived, actorUserID, at,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrArchiveIncomplete
		}
		return nil
	})
}

func (s *PGStore) SetReopened(ctx context.Context, id, actorUserID string, at time.Time, reason string) error {
	return s.transition(ctx, id, StatusArchived, ErrNotArchived, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`update investigations set status=$2, reopened_by=$3, reopened_at=$4, reopen_reason=$5 where id=$1`,
			id, StatusActive, actorUserID, at, reason,
		)
		return err
	})
}

// transition locks the investigation row, requires it to be in wantStatus
// and applies the mutation in the same transaction.
func (s *PGStore) transition(ctx context.Context, id, wantStatus string, statusErr error, apply func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`select status from investigations where id=$1 for update`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != wantStatus {
		return statusErr
	}
	if err := apply(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) InsertEvidence(ctx context.Context, ev *Evidence) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Status is checked under the row lock so a submission racing an archive
	// cannot land evidence on a freshly archived case.
	var status string
	err = tx.QueryRowContext(ctx,
		`select status from investigations where id=$1 for update`, ev.InvestigationID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == StatusArchived {
		return ErrInvestigationArchived
	}

	if ev.ID == "" {
		ev.ID = ids.New()
	}
	ev.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`insert into evidence(id, investigation_id, digest, locator, uploader, file_name, file_size, mime_type, hot_tx_ref, verified, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10)`,
		ev.ID, ev.InvestigationID, ev.Digest, ev.Locator, ev.Uploader, ev.FileName, ev.FileSize, ev.MIMEType, ev.HotTxRef, ev.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const evColumns = `id, investigation_id, digest, locator, uploader, file_name, file_size, mime_type, hot_tx_ref, cold_tx_ref, verified, created_at`

func (s *PGStore) Evidence(ctx context.Context, id string) (*Evidence, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+evColumns+` from evidence where id=$1`, id)
	ev, err := scanEvidence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

func (s *PGStore) EvidenceByInvestigation(ctx context.Context, investigationID string) ([]*Evidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+evColumns+` from evidence where investigation_id=$1 order by created_at asc`, investigationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PGStore) SetColdTx(ctx context.Context, evidenceID, txRef string) error {
	res, err := s.db.ExecContext(ctx,
		`update evidence set cold_tx_ref=$2 where id=$1 and cold_tx_ref is null`, evidenceID, txRef)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) MarkEvidenceVerified(ctx context.Context, evidenceID string) error {
	res, err := s.db.ExecContext(ctx,
		`update evidence set verified=true where id=$1`, evidenceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) RecordTransaction(ctx context.Context, ltx *LedgerTransaction) error {
	if ltx.ID == "" {
		ltx.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into ledger_transactions(id, chain_type, investigation_id, tx_ref, digest, block_number, tx_timestamp, verified)
		 values($1,$2,$3,$4,$5,$6,$7,false)`,
		ltx.ID, ltx.ChainType, ltx.InvestigationID, ltx.TxRef, ltx.Digest, ltx.BlockNumber, ltx.Timestamp,
	)
	return err
}

func (s *PGStore) MarkTransactionVerified(ctx context.Context, txRef string) error {
	_, err := s.db.ExecContext(ctx,
		`update ledger_transactions set verified=true where tx_ref=$1`, txRef)
	return err
}

func (s *PGStore) UpsertPending(ctx context.Context, p *PendingSubmission) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`insert into pending_submissions(id, investigation_id, digest, locator, uploader, file_name, file_size, mime_type, stage, attempts, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,1,$10,$10)
		 on conflict (investigation_id, digest) do update
		 set locator=excluded.locator, stage=excluded.stage,
		     attempts=pending_submissions.attempts+1, updated_at=excluded.updated_at`,
		p.ID, p.InvestigationID, p.Digest, p.Locator, p.Uploader, p.FileName, p.FileSize, p.MIMEType, p.Stage, now,
	)
	return err
}

func (s *PGStore) PendingByDigest(ctx context.Context, investigationID, digest string) (*PendingSubmission, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, investigation_id, digest, locator, uploader, file_name, file_size, mime_type, stage, attempts, created_at, updated_at
		 from pending_submissions where investigation_id=$1 and digest=$2`, investigationID, digest)
	var p PendingSubmission
	err := row.Scan(&p.ID, &p.InvestigationID, &p.Digest, &p.Locator, &p.Uploader, &p.FileName, &p.FileSize, &p.MIMEType, &p.Stage, &p.Attempts, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) DeletePending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from pending_submissions where id=$1`, id)
	return err
}

func (s *PGStore) ListPending(ctx context.Context) ([]*PendingSubmission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, investigation_id, digest, locator, uploader, file_name, file_size, mime_type, stage, attempts, created_at, updated_at
		 from pending_submissions order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingSubmission
	for rows.Next() {
		var p PendingSubmission
		if err := rows.Scan(&p.ID, &p.InvestigationID, &p.Digest, &p.Locator, &p.Uploader, &p.FileName, &p.FileSize, &p.MIMEType, &p.Stage, &p.Attempts, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvestigation(row rowScanner) (*Investigation, error) {
	var inv Investigation
	var archivedBy, reopenedBy, reopenReason sql.NullString
	var archivedAt, reopenedAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.CaseNumber, &inv.Title, &inv.Description, &inv.Status,
		&inv.CreatedBy, &inv.CreatedAt, &archivedBy, &archivedAt, &reopenedBy, &reopenedAt, &reopenReason)
	if err != nil {
		return nil, err
	}
	inv.ArchivedBy = archivedBy.String
	inv.ReopenedBy = reopenedBy.String
	inv.ReopenReason = reopenReason.String
	if archivedAt.Valid {
		t := archivedAt.Time
		inv.ArchivedAt = &t
	}
	if reopenedAt.Valid {
		t := reopenedAt.Time
		inv.ReopenedAt = &t
	}
	return &inv, nil
}

func scanEvidence(row rowScanner) (*Evidence, error) {
	var ev Evidence
	var coldTx sql.NullString
	err := row.Scan(&ev.ID, &ev.InvestigationID, &ev.Digest, &ev.Locator, &ev.Uploader,
		&ev.FileName, &ev.FileSize, &ev.MIMEType, &ev.HotTxRef, &coldTx, &ev.Verified, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.ColdTxRef = coldTx.String
	return &ev, nil
}
