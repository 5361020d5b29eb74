package pki

import "time"

// Serial numbers below userSerialOffset are reserved for CA-level artifacts
// (the CA certificate itself, cross-signs). User issuance starts above it.
const (
	caSerial         = int64(1)
	userSerialOffset = int64(1000)
)

// Certificate types.
const (
	TypeUser    = "user"
	TypeService = "service"
)

// CertificateAuthority is the internal CA: one active authority at a time
// signs every client certificate. The private key is sealed at rest.
type CertificateAuthority struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CertPEM    string    `json:"certificate"`
	KeySealed  []byte    `json:"-"`
	NextSerial int64     `json:"next_serial"`
	Active     bool      `json:"active"`
	NotBefore  time.Time `json:"not_before"`
	NotAfter   time.Time `json:"not_after"`
	CreatedAt  time.Time `json:"created_at"`
}

// Certificate is an issued client certificate. Rows are never deleted;
// the only permitted mutation is the one-way revoked flip.
type Certificate struct {
	ID               string     `json:"id"`
	CAID             string     `json:"ca_id"`
	UserID           string     `json:"user_id"`
	Type             string     `json:"type"`
	Serial           int64      `json:"serial"`
	SubjectDN        string     `json:"subject_dn"`
	IssuerDN         string     `json:"issuer_dn"`
	CertPEM          string     `json:"certificate"`
	KeySealed        []byte     `json:"-"`
	Fingerprint      string     `json:"fingerprint_sha256"`
	NotBefore        time.Time  `json:"not_before"`
	NotAfter         time.Time  `json:"not_after"`
	Revoked          bool       `json:"revoked"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// RevocationList is a persisted, signed CRL snapshot.
type RevocationList struct {
	ID         string    `json:"id"`
	CAID       string    `json:"ca_id"`
	PEM        string    `json:"pem"`
	Number     int64     `json:"number"`
	ThisUpdate time.Time `json:"this_update"`
	NextUpdate time.Time `json:"next_update"`
	CreatedAt  time.Time `json:"created_at"`
}
