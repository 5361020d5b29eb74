package pki

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

func (s *PGStore) CreateAuthority(ctx context.Context, ca *CertificateAuthority) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`select count(1) from certificate_authorities where is_active`).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		return ErrActiveCAExists
	}

	if ca.ID == "" {
		ca.ID = ids.New()
	}
	ca.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`insert into certificate_authorities(id, name, cert_pem, key_sealed, serial_number, is_active, not_before, not_after, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ca.ID, ca.Name, ca.CertPEM, ca.KeySealed, ca.NextSerial, ca.Active, ca.NotBefore, ca.NotAfter, ca.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) ActiveAuthority(ctx context.Context) (*CertificateAuthority, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, cert_pem, key_sealed, serial_number, is_active, not_before, not_after, created_at
		 from certificate_authorities where is_active limit 1`)
	var ca CertificateAuthority
	err := row.Scan(&ca.ID, &ca.Name, &ca.CertPEM, &ca.KeySealed, &ca.NextSerial, &ca.Active, &ca.NotBefore, &ca.NotAfter, &ca.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveCA
	}
	if err != nil {
		return nil, err
	}
	return &ca, nil
}

// IssueCertificate advances the serial counter and inserts the certificate in
// one transaction, so the counter never moves without a matching row and a
// failed build rolls the advance back.
func (s *PGStore) IssueCertificate(ctx context.Context, caID string, build func(serial int64) (*Certificate, error)) (*Certificate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var serial int64
	err = tx.QueryRowContext(ctx,
		`update certificate_authorities set serial_number = serial_number + 1
		 where id=$1 and is_active
		 returning serial_number - 1`, caID).Scan(&serial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveCA
	}
	if err != nil {
		return nil, err
	}

	cert, err := build(serial)
	if err != nil {
		return nil, err
	}
	if cert.ID == "" {
		cert.ID = ids.New()
	}
	cert.CAID = caID
	cert.Serial = serial
	cert.CreatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`insert into certificates(id, ca_id, user_id, cert_type, serial, subject_dn, issuer_dn, cert_pem, key_sealed, fingerprint_sha256, not_before, not_after, revoked, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false,$13)`,
		cert.ID, cert.CAID, cert.UserID, cert.Type, cert.Serial, cert.SubjectDN, cert.IssuerDN,
		cert.CertPEM, cert.KeySealed, cert.Fingerprint, cert.NotBefore, cert.NotAfter, cert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cert, nil
}

const certColumns = `id, ca_id, user_id, cert_type, serial, subject_dn, issuer_dn, cert_pem, key_sealed, fingerprint_sha256, not_before, not_after, revoked, revoked_at, revocation_reason, created_at`

func (s *PGStore) Certificate(ctx context.Context, id string) (*Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+certColumns+` from certificates where id=$1`, id)
	return scanCert(row)
}

func (s *PGStore) CertificateBySerial(ctx context.Context, caID string, serial int64) (*Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+certColumns+` from certificates where ca_id=$1 and serial=$2`, caID, serial)
	return scanCert(row)
}

func (s *PGStore) Revoke(ctx context.Context, certID, reason string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var revoked bool
	err = tx.QueryRowContext(ctx,
		`select revoked from certificates where id=$1 for update`, certID).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCertNotFound
	}
	if err != nil {
		return err
	}
	if revoked {
		return ErrAlreadyRevoked
	}

	_, err = tx.ExecContext(ctx,
		`update certificates set revoked=true, revoked_at=$2, revocation_reason=$3 where id=$1`,
		certID, at, reason,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) RevokedCertificates(ctx context.Context, caID string) ([]*Certificate, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+certColumns+` from certificates where ca_id=$1 and revoked order by serial asc`, caID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Certificate
	for rows.Next() {
		cert, err := scanCertRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

func (s *PGStore) SaveCRL(ctx context.Context, crl *RevocationList) error {
	if crl.ID == "" {
		crl.ID = ids.New()
	}
	crl.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`insert into crls(id, ca_id, pem, number, this_update, next_update, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		crl.ID, crl.CAID, crl.PEM, crl.Number, crl.ThisUpdate, crl.NextUpdate, crl.CreatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCert(row *sql.Row) (*Certificate, error) {
	cert, err := scanCertRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCertNotFound
	}
	return cert, err
}

func scanCertRow(row rowScanner) (*Certificate, error) {
	var c Certificate
	var revokedAt sql.NullTime
	var reason sql.NullString
	err := row.Scan(&c.ID, &c.CAID, &c.UserID, &c.Type, &c.Serial, &c.SubjectDN, &c.IssuerDN,
		&c.CertPEM, &c.KeySealed, &c.Fingerprint, &c.NotBefore, &c.NotAfter,
		&c.Revoked, &revokedAt, &reason, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevokedAt = &t
	}
	if reason.Valid {
		c.RevocationReason = reason.String
	}
	return &c, nil
}
