package pki

import (
	"context"
	"time"
)

// Store is the persistent record of the CA, issued certificates and
// revocation state. The durable store is the single source of truth: the
// serial counter and revocation flags never live in process memory.
type Store interface {
	// CreateAuthority persists a new CA. Fails with ErrActiveCAExists if an
	// active authority is already present.
	CreateAuthority(ctx context.Context, ca *CertificateAuthority) error

	// ActiveAuthority returns the single active CA or ErrNoActiveCA.
	ActiveAuthority(ctx context.Context) (*CertificateAuthority, error)

	// IssueCertificate atomically allocates the next serial and persists the
	// certificate built by build. The counter advance and the insert commit
	// together: a failed build leaves the counter untouched. build receives
	// the allocated serial and must return the fully signed certificate.
	IssueCertificate(ctx context.Context, caID string, build func(serial int64) (*Certificate, error)) (*Certificate, error)

	// Certificate looks a certificate up by id. ErrCertNotFound if unknown.
	Certificate(ctx context.Context, id string) (*Certificate, error)

	// CertificateBySerial looks a certificate up by serial within the CA.
	CertificateBySerial(ctx context.Context, caID string, serial int64) (*Certificate, error)

	// Revoke flips revoked=true exactly once. ErrAlreadyRevoked on repeat,
	// ErrCertNotFound if unknown. Revocation is terminal.
	Revoke(ctx context.Context, certID, reason string, at time.Time) error

	// RevokedCertificates returns every revoked certificate under the CA.
	RevokedCertificates(ctx context.Context, caID string) ([]*Certificate, error)

	// SaveCRL persists a generated revocation-list snapshot.
	SaveCRL(ctx context.Context, crl *RevocationList) error
}
