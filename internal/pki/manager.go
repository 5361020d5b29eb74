// Package pki implements the internal Certificate Authority: issuance and
// revocation of the client certificates used for mutual-TLS authentication,
// plus the signed revocation list a TLS terminator consumes. All state round
// trips through the Store so concurrent request handlers observe the same
// counter and revocation flags.
package pki

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/obs"
)

const (
	defaultCAKeyBits   = 4096
	defaultUserKeyBits = 2048

	caOrganization = "Custodia Internal CA"
)

// Manager owns CA creation, certificate issuance and revocation.
type Manager struct {
	store  Store
	dir    auth.Directory
	sealer *Sealer
	audits audit.Store
	now    func() time.Time

	caKeyBits   int
	userKeyBits int
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithKeyBits overrides the RSA key sizes. Tests use smaller keys.
func WithKeyBits(ca, user int) Option {
	return func(m *Manager) {
		if ca > 0 {
			m.caKeyBits = ca
		}
		if user > 0 {
			m.userKeyBits = user
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store Store, dir auth.Directory, sealer *Sealer, audits audit.Store, opts ...Option) (*Manager, error) {
	if store == nil || dir == nil || sealer == nil {
		return nil, errors.New("pki: store, directory and sealer are required")
	}
	m := &Manager{
		store:       store,
		dir:         dir,
		sealer:      sealer,
		audits:      audits,
		now:         time.Now,
		caKeyBits:   defaultCAKeyBits,
		userKeyBits: defaultUserKeyBits,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateAuthority generates the root key pair, self-signs the CA certificate
// and persists the authority with the serial counter at its starting offset.
func (m *Manager) CreateAuthority(ctx context.Context, actor auth.Principal, name string, validityDays int) (*CertificateAuthority, error) {
	if err := auth.Authorize(actor, auth.ActionCACreate, name); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("pki: authority name is required")
	}
	if validityDays <= 0 {
		return nil, errors.New("pki: validity must be positive")
	}

	key, err := rsa.GenerateKey(rand.Reader, m.caKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}

	now := m.now().UTC()
	notAfter := now.AddDate(0, 0, validityDays)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(caSerial),
		Subject: pkix.Name{
			Organization: []string{caOrganization},
			CommonName:   name,
		},
		NotBefore:             now,
		NotAfter:              notAfter,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("self-sign CA certificate: %w", err)
	}

	keySealed, err := m.sealKey(key)
	if err != nil {
		return nil, err
	}

	ca := &CertificateAuthority{
		Name:       name,
		CertPEM:    encodeCertPEM(der),
		KeySealed:  keySealed,
		NextSerial: userSerialOffset,
		Active:     true,
		NotBefore:  now,
		NotAfter:   notAfter,
	}
	if err := m.store.CreateAuthority(ctx, ca); err != nil {
		return nil, err
	}

	_ = audit.Record(ctx, m.audits, &audit.Entry{
		ActorUserID:  actor.User.ID,
		Action:       "pki.ca.create",
		ResourceType: "certificate_authority",
		ResourceID:   ca.ID,
	})
	return ca, nil
}

// IssueCertificate allocates the next serial atomically and signs a client
// certificate bound to the user's identity. The user key pair is generated
// before the store transaction so no lock is held across the expensive part.
func (m *Manager) IssueCertificate(ctx context.Context, actor auth.Principal, userID string, validityDays int) (*Certificate, error) {
	if err := auth.Authorize(actor, auth.ActionCertIssue, "user:"+userID); err != nil {
		return nil, err
	}
	if validityDays <= 0 {
		return nil, errors.New("pki: validity must be positive")
	}

	ca, err := m.store.ActiveAuthority(ctx)
	if err != nil {
		return nil, err
	}
	user, err := m.dir.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, err
	}

	caCert, caKey, err := m.openAuthority(ca)
	if err != nil {
		return nil, err
	}
	userKey, err := rsa.GenerateKey(rand.Reader, m.userKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate user key: %w", err)
	}
	keySealed, err := m.sealKey(userKey)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	notAfter := now.AddDate(0, 0, validityDays)

	cert, err := m.store.IssueCertificate(ctx, ca.ID, func(serial int64) (*Certificate, error) {
		template := &x509.Certificate{
			SerialNumber: big.NewInt(serial),
			Subject: pkix.Name{
				Organization: []string{"Custodia"},
				CommonName:   user.Username,
			},
			EmailAddresses:        emailList(user.Email),
			NotBefore:             now,
			NotAfter:              notAfter,
			BasicConstraintsValid: true,
			KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		}
		der, err := x509.CreateCertificate(rand.Reader, template, caCert, &userKey.PublicKey, caKey)
		if err != nil {
			return nil, fmt.Errorf("sign certificate: %w", err)
		}
		parsed, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		fp := sha256.Sum256(der)
		return &Certificate{
			UserID:      user.ID,
			Type:        TypeUser,
			SubjectDN:   parsed.Subject.String(),
			IssuerDN:    parsed.Issuer.String(),
			CertPEM:     encodeCertPEM(der),
			KeySealed:   keySealed,
			Fingerprint: hex.EncodeToString(fp[:]),
			NotBefore:   now,
			NotAfter:    notAfter,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	obs.CertificatesIssued.Inc()
	_ = audit.Record(ctx, m.audits, &audit.Entry{
		ActorUserID:  actor.User.ID,
		Action:       "pki.cert.issue",
		ResourceType: "certificate",
		ResourceID:   cert.ID,
	})
	return cert, nil
}

// RevokeCertificate flips the one-way revoked flag. Repeated calls surface
// ErrAlreadyRevoked; the certificate stays revoked either way.
func (m *Manager) RevokeCertificate(ctx context.Context, actor auth.Principal, certID, reason string) error {
	if err := auth.Authorize(actor, auth.ActionCertRevoke, "certificate:"+certID); err != nil {
		return err
	}
	if err := m.store.Revoke(ctx, certID, reason, m.now().UTC()); err != nil {
		return err
	}
	obs.CertificatesRevoked.Inc()
	_ = audit.Record(ctx, m.audits, &audit.Entry{
		ActorUserID:  actor.User.ID,
		Action:       "pki.cert.revoke",
		ResourceType: "certificate",
		ResourceID:   certID,
	})
	return nil
}

// crlValidity is how long a generated CRL advertises itself as fresh.
const crlValidity = 7 * 24 * time.Hour

// ExportCRL renders the current revocation state into a signed CRL. Purely
// derived from store state; the snapshot is persisted for audit.
func (m *Manager) ExportCRL(ctx context.Context) (*RevocationList, error) {
	ca, err := m.store.ActiveAuthority(ctx)
	if err != nil {
		return nil, err
	}
	caCert, caKey, err := m.openAuthority(ca)
	if err != nil {
		return nil, err
	}
	revoked, err := m.store.RevokedCertificates(ctx, ca.ID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, cert := range revoked {
		at := now
		if cert.RevokedAt != nil {
			at = *cert.RevokedAt
		}
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   big.NewInt(cert.Serial),
			RevocationTime: at,
		})
	}

	template := &x509.RevocationList{
		Number:                    big.NewInt(now.Unix()),
		ThisUpdate:                now,
		NextUpdate:                now.Add(crlValidity),
		RevokedCertificateEntries: entries,
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, caCert, caKey)
	if err != nil {
		return nil, fmt.Errorf("sign CRL: %w", err)
	}

	crl := &RevocationList{
		CAID:       ca.ID,
		PEM:        string(pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})),
		Number:     now.Unix(),
		ThisUpdate: now,
		NextUpdate: now.Add(crlValidity),
	}
	if err := m.store.SaveCRL(ctx, crl); err != nil {
		return nil, err
	}
	return crl, nil
}

// Bundle is the export payload handed to end users for browser/OS import:
// certificate, private key and the CA certificate, sealed under a password
// of the user's choosing.
type Bundle struct {
	CertPEM   string `json:"certificate"`
	KeyPEM    string `json:"private_key"`
	CACertPEM string `json:"ca_certificate"`
}

// ExportBundle produces the password-protected key-and-certificate bundle.
func (m *Manager) ExportBundle(ctx context.Context, certID, password string) ([]byte, error) {
	cert, err := m.store.Certificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	ca, err := m.store.ActiveAuthority(ctx)
	if err != nil {
		return nil, err
	}
	keyPEM, err := m.sealer.Open(cert.KeySealed)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(Bundle{
		CertPEM:   cert.CertPEM,
		KeyPEM:    string(keyPEM),
		CACertPEM: ca.CertPEM,
	})
	if err != nil {
		return nil, err
	}
	return SealWithPassword(password, payload)
}

// Helpers ------------------------------------------------------------------

func (m *Manager) sealKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return m.sealer.Seal(keyPEM)
}

func (m *Manager) openAuthority(ca *CertificateAuthority) (*x509.Certificate, *rsa.PrivateKey, error) {
	cert, err := parseCertPEM(ca.CertPEM)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := m.sealer.Open(ca.KeySealed)
	if err != nil {
		return nil, nil, err
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, errors.New("pki: malformed CA key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errors.New("pki: CA key is not RSA")
	}
	return cert, key, nil
}

func parseCertPEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("pki: malformed certificate PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

func encodeCertPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func emailList(email string) []string {
	if email == "" {
		return nil
	}
	return []string{email}
}
