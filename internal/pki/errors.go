package pki

import "errors"

var (
	// ErrActiveCAExists is returned by CreateAuthority when an active CA is
	// already present. At most one active CA is permitted.
	ErrActiveCAExists = errors.New("pki: an active certificate authority already exists")

	// ErrNoActiveCA is returned by issuance when no CA has been created.
	ErrNoActiveCA = errors.New("pki: no active certificate authority")

	// ErrUserNotFound is returned when the issuance target does not exist in
	// the user directory.
	ErrUserNotFound = errors.New("pki: user not found")

	// ErrCertNotFound is returned when the referenced certificate does not
	// exist.
	ErrCertNotFound = errors.New("pki: certificate not found")

	// ErrAlreadyRevoked is returned on repeated revocation. Safe to ignore
	// by callers; the certificate stays revoked.
	ErrAlreadyRevoked = errors.New("pki: certificate already revoked")

	// ErrCertRevoked rejects authentication with a revoked certificate.
	ErrCertRevoked = errors.New("pki: certificate revoked")

	// ErrCertExpired rejects authentication outside the validity window.
	ErrCertExpired = errors.New("pki: certificate expired or not yet valid")

	// ErrFingerprintMismatch rejects a presented certificate whose SHA-256
	// fingerprint differs from the issued one (reissuance or tampering).
	ErrFingerprintMismatch = errors.New("pki: certificate fingerprint mismatch")

	// ErrBadPassword is returned when a sealed envelope cannot be opened
	// with the supplied password or master key.
	ErrBadPassword = errors.New("pki: cannot open sealed data")
)
