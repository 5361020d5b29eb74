package pki

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
)

type pkiFixture struct {
	mgr    *Manager
	store  *MemoryStore
	dir    *auth.MemoryDirectory
	audits *audit.MemoryStore
	admin  auth.Principal
	alice  *auth.User
}

func newPKIFixture(t *testing.T, opts ...Option) *pkiFixture {
	t.Helper()
	dir := auth.NewMemoryDirectory()
	store := NewMemoryStore()
	audits := audit.NewMemoryStore()
	sealer, err := NewSealer("test-master")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	adminUser := &auth.User{Username: "root", Email: "root@custodia.test"}
	if err := dir.Create(t.Context(), adminUser, "x"); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if err := dir.AssignRole(t.Context(), adminUser.ID, auth.RoleAdmin); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	alice := &auth.User{Username: "alice", Email: "alice@custodia.test"}
	if err := dir.Create(t.Context(), alice, "x"); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if err := dir.AssignRole(t.Context(), alice.ID, auth.RoleInvestigator); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	opts = append([]Option{WithKeyBits(1024, 1024)}, opts...)
	mgr, err := NewManager(store, dir, sealer, audits, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &pkiFixture{
		mgr:    mgr,
		store:  store,
		dir:    dir,
		audits: audits,
		admin:  auth.Principal{User: *adminUser, Roles: []string{auth.RoleAdmin}, AuthnMethod: auth.MethodPassword, MFAVerified: true},
		alice:  alice,
	}
}

func TestCreateAuthoritySingleActive(t *testing.T) {
	f := newPKIFixture(t)
	ca, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650)
	if err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}
	if ca.NextSerial != userSerialOffset {
		t.Fatalf("next serial = %d, want %d", ca.NextSerial, userSerialOffset)
	}
	cert, err := parseCertPEM(ca.CertPEM)
	if err != nil {
		t.Fatalf("parse CA cert: %v", err)
	}
	if !cert.IsCA || cert.SerialNumber.Int64() != caSerial {
		t.Fatalf("CA cert isCA=%v serial=%v", cert.IsCA, cert.SerialNumber)
	}
	if cert.KeyUsage&x509.KeyUsageCertSign == 0 {
		t.Fatal("CA cert missing certSign usage")
	}

	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Second", 3650); !errors.Is(err, ErrActiveCAExists) {
		t.Fatalf("want ErrActiveCAExists, got %v", err)
	}
}

func TestCreateAuthorityRequiresAdmin(t *testing.T) {
	f := newPKIFixture(t)
	investigator := auth.Principal{User: *f.alice, Roles: []string{auth.RoleInvestigator}}
	if _, err := f.mgr.CreateAuthority(t.Context(), investigator, "Root CA", 3650); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestIssueCertificate(t *testing.T) {
	f := newPKIFixture(t)
	if _, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 365); !errors.Is(err, ErrNoActiveCA) {
		t.Fatalf("want ErrNoActiveCA before CA exists, got %v", err)
	}
	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650); err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}

	cert, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 365)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}
	if cert.Serial != userSerialOffset {
		t.Fatalf("first serial = %d, want %d", cert.Serial, userSerialOffset)
	}
	if cert.UserID != f.alice.ID || cert.Type != TypeUser {
		t.Fatalf("cert user=%s type=%s", cert.UserID, cert.Type)
	}
	if len(cert.Fingerprint) != 64 {
		t.Fatalf("fingerprint %q not sha256 hex", cert.Fingerprint)
	}

	parsed, err := parseCertPEM(cert.CertPEM)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	if parsed.Subject.CommonName != "alice" {
		t.Fatalf("CN = %q", parsed.Subject.CommonName)
	}
	if len(parsed.ExtKeyUsage) != 1 || parsed.ExtKeyUsage[0] != x509.ExtKeyUsageClientAuth {
		t.Fatalf("ext key usage = %v", parsed.ExtKeyUsage)
	}
	caCert, _ := parseCertPEM(mustActiveCA(t, f).CertPEM)
	if err := parsed.CheckSignatureFrom(caCert); err != nil {
		t.Fatalf("cert not signed by CA: %v", err)
	}

	second, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 365)
	if err != nil {
		t.Fatalf("second issuance: %v", err)
	}
	if second.Serial != userSerialOffset+1 {
		t.Fatalf("second serial = %d, want %d", second.Serial, userSerialOffset+1)
	}
}

func TestIssueCertificateConcurrentSerialsDistinct(t *testing.T) {
	f := newPKIFixture(t)
	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650); err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}

	const workers = 8
	serials := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cert, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 365)
			if err != nil {
				t.Errorf("IssueCertificate: %v", err)
				return
			}
			serials <- cert.Serial
		}()
	}
	wg.Wait()
	close(serials)

	seen := make(map[int64]bool)
	for serial := range serials {
		if seen[serial] {
			t.Fatalf("serial %d issued twice", serial)
		}
		seen[serial] = true
		if serial < userSerialOffset || serial >= userSerialOffset+workers {
			t.Fatalf("serial %d outside [%d,%d)", serial, userSerialOffset, userSerialOffset+workers)
		}
	}
	if len(seen) != workers {
		t.Fatalf("issued %d certificates, want %d", len(seen), workers)
	}
	ca, err := f.store.ActiveAuthority(t.Context())
	if err != nil {
		t.Fatalf("ActiveAuthority: %v", err)
	}
	if ca.NextSerial != userSerialOffset+workers {
		t.Fatalf("next serial = %d, want %d", ca.NextSerial, userSerialOffset+workers)
	}
}

func TestIssueCertificateUnknownUser(t *testing.T) {
	f := newPKIFixture(t)
	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650); err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}
	if _, err := f.mgr.IssueCertificate(t.Context(), f.admin, "missing", 365); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound, got %v", err)
	}
	ca := mustActiveCA(t, f)
	if ca.NextSerial != userSerialOffset {
		t.Fatalf("counter moved on failed issuance: %d", ca.NextSerial)
	}
}

func TestRevokeCertificate(t *testing.T) {
	f := newPKIFixture(t)
	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650); err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}
	cert, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 365)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	if err := f.mgr.RevokeCertificate(t.Context(), f.admin, cert.ID, "key compromise"); err != nil {
		t.Fatalf("RevokeCertificate: %v", err)
	}
	if err := f.mgr.RevokeCertificate(t.Context(), f.admin, cert.ID, "again"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("want ErrAlreadyRevoked, got %v", err)
	}
	got, err := f.store.Certificate(t.Context(), cert.ID)
	if err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	if !got.Revoked || got.RevocationReason != "key compromise" {
		t.Fatalf("revocation not recorded: %+v", got)
	}
}

func TestExportCRL(t *testing.T) {
	f := newPKIFixture(t)
	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650); err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}
	cert, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 365)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}
	if err := f.mgr.RevokeCertificate(t.Context(), f.admin, cert.ID, "compromise"); err != nil {
		t.Fatalf("RevokeCertificate: %v", err)
	}

	crl, err := f.mgr.ExportCRL(t.Context())
	if err != nil {
		t.Fatalf("ExportCRL: %v", err)
	}
	block, _ := pem.Decode([]byte(crl.PEM))
	if block == nil {
		t.Fatal("CRL not PEM encoded")
	}
	parsed, err := x509.ParseRevocationList(block.Bytes)
	if err != nil {
		t.Fatalf("parse CRL: %v", err)
	}
	if len(parsed.RevokedCertificateEntries) != 1 {
		t.Fatalf("revoked entries = %d, want 1", len(parsed.RevokedCertificateEntries))
	}
	if parsed.RevokedCertificateEntries[0].SerialNumber.Int64() != cert.Serial {
		t.Fatalf("revoked serial = %v, want %d", parsed.RevokedCertificateEntries[0].SerialNumber, cert.Serial)
	}
	if !parsed.NextUpdate.After(parsed.ThisUpdate) {
		t.Fatal("nextUpdate not after thisUpdate")
	}
}

func TestExportBundle(t *testing.T) {
	f := newPKIFixture(t)
	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650); err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}
	cert, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 365)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	sealed, err := f.mgr.ExportBundle(t.Context(), cert.ID, "export-pass")
	if err != nil {
		t.Fatalf("ExportBundle: %v", err)
	}
	payload, err := OpenWithPassword("export-pass", sealed)
	if err != nil {
		t.Fatalf("OpenWithPassword: %v", err)
	}
	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		t.Fatalf("unmarshal bundle: %v", err)
	}
	if bundle.CertPEM != cert.CertPEM {
		t.Fatal("bundle certificate differs from issued certificate")
	}
	block, _ := pem.Decode([]byte(bundle.KeyPEM))
	if block == nil || block.Type != "PRIVATE KEY" {
		t.Fatal("bundle private key not PEM encoded")
	}
	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err != nil {
		t.Fatalf("bundle key unparseable: %v", err)
	}
	if _, err := OpenWithPassword("wrong", sealed); !errors.Is(err, ErrBadPassword) {
		t.Fatalf("want ErrBadPassword, got %v", err)
	}
}

func TestAuthenticatorLifecycle(t *testing.T) {
	f := newPKIFixture(t)
	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650); err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}
	cert, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 365)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	authn := NewAuthenticator(f.store, f.dir)
	p, err := authn.Authenticate(t.Context(), cert.Serial, cert.Fingerprint)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.User.Username != "alice" || p.AuthnMethod != auth.MethodCertificate {
		t.Fatalf("principal = %+v", p)
	}
	if !p.HasRole(auth.RoleInvestigator) {
		t.Fatal("roles not loaded")
	}

	if _, err := authn.Authenticate(t.Context(), cert.Serial, "deadbeef"); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("want ErrFingerprintMismatch, got %v", err)
	}
	if _, err := authn.Authenticate(t.Context(), 9999, ""); !errors.Is(err, ErrCertNotFound) {
		t.Fatalf("want ErrCertNotFound, got %v", err)
	}

	if err := f.mgr.RevokeCertificate(t.Context(), f.admin, cert.ID, "compromise"); err != nil {
		t.Fatalf("RevokeCertificate: %v", err)
	}
	if _, err := authn.Authenticate(t.Context(), cert.Serial, cert.Fingerprint); !errors.Is(err, ErrCertRevoked) {
		t.Fatalf("want ErrCertRevoked after revocation, got %v", err)
	}
}

func TestAuthenticatorExpiry(t *testing.T) {
	f := newPKIFixture(t)
	if _, err := f.mgr.CreateAuthority(t.Context(), f.admin, "Root CA", 3650); err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}
	cert, err := f.mgr.IssueCertificate(t.Context(), f.admin, f.alice.ID, 1)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	authn := NewAuthenticator(f.store, f.dir)
	authn.now = func() time.Time { return cert.NotAfter.Add(time.Hour) }
	if _, err := authn.Authenticate(t.Context(), cert.Serial, ""); !errors.Is(err, ErrCertExpired) {
		t.Fatalf("want ErrCertExpired, got %v", err)
	}
}

func mustActiveCA(t *testing.T, f *pkiFixture) *CertificateAuthority {
	t.Helper()
	ca, err := f.store.ActiveAuthority(t.Context())
	if err != nil {
		t.Fatalf("ActiveAuthority: %v", err)
	}
	return ca
}
