// Command smoke drives the full custody scenario against in-memory stores
// and bolt-backed collaborator mocks: CA bootstrap, certificate issuance and
// authentication, MFA enrollment, evidence submission and verification,
// archival, reopening, GUID resolution and certificate revocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"custodia.org/internal/anon"
	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/blob"
	"custodia.org/internal/chain"
	"custodia.org/internal/custody"
	"custodia.org/internal/mfa"
	"custodia.org/internal/pki"
)

const testDigest = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func main() {
	log.SetFlags(0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tmp, err := os.MkdirTemp("", "custodia-smoke-*")
	if err != nil {
		log.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(tmp)

	dir := auth.NewMemoryDirectory()
	admin := mustUser(ctx, dir, "root", auth.RoleAdmin, auth.RoleInvestigator)
	court := mustUser(ctx, dir, "judge", auth.RoleCourt)

	sealer, err := pki.NewSealer("smoke-master-key")
	if err != nil {
		log.Fatalf("sealer: %v", err)
	}
	audits := audit.NewMemoryStore()
	certs := pki.NewMemoryStore()
	mgr, err := pki.NewManager(certs, dir, sealer, audits, pki.WithKeyBits(2048, 2048))
	if err != nil {
		log.Fatalf("pki manager: %v", err)
	}

	adminP := principal(ctx, dir, admin)
	courtP := principal(ctx, dir, court)

	// CA bootstrap and certificate issuance.
	if _, err := mgr.CreateAuthority(ctx, adminP, "Custodia Smoke CA", 365); err != nil {
		log.Fatalf("create CA: %v", err)
	}
	cert, err := mgr.IssueCertificate(ctx, adminP, admin.ID, 30)
	if err != nil {
		log.Fatalf("issue certificate: %v", err)
	}

	authn := pki.NewAuthenticator(certs, dir)
	certP, err := authn.Authenticate(ctx, cert.Serial, cert.Fingerprint)
	if err != nil {
		log.Fatalf("authenticate: %v", err)
	}
	if certP.AuthnMethod != auth.MethodCertificate {
		log.Fatalf("authn method = %s", certP.AuthnMethod)
	}

	// MFA enrollment and challenge.
	gate := mfa.NewGate(mfa.NewMemorySecretStore())
	enr, err := gate.BeginEnrollment(ctx, admin.ID, admin.Username)
	if err != nil {
		log.Fatalf("begin enrollment: %v", err)
	}
	code, err := mfa.CodeAt(enr.Secret, time.Now())
	if err != nil {
		log.Fatalf("code: %v", err)
	}
	if err := gate.ConfirmEnrollment(ctx, admin.ID, code); err != nil {
		log.Fatalf("confirm enrollment: %v", err)
	}
	if err := gate.Verify(ctx, admin.ID, code); err != nil {
		log.Fatalf("mfa verify: %v", err)
	}
	certP.MFAVerified = true
	courtP.MFAVerified = true

	// Custody pipeline on bolt-backed mocks.
	blobs, err := blob.OpenBolt(filepath.Join(tmp, "blobs.db"))
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	defer blobs.Close()
	hot, err := chain.OpenBolt(filepath.Join(tmp, "hot.db"))
	if err != nil {
		log.Fatalf("hot ledger: %v", err)
	}
	defer hot.Close()
	cold, err := chain.OpenBolt(filepath.Join(tmp, "cold.db"))
	if err != nil {
		log.Fatalf("cold ledger: %v", err)
	}
	defer cold.Close()

	store := custody.NewMemoryStore()
	svc, err := custody.NewService(store, blobs, hot, audits)
	if err != nil {
		log.Fatalf("custody service: %v", err)
	}
	archiver, err := custody.NewArchiveService(store, cold, audits)
	if err != nil {
		log.Fatalf("archive service: %v", err)
	}

	inv, err := svc.CreateInvestigation(ctx, certP, "SMOKE-1", "Smoke investigation", "")
	if err != nil {
		log.Fatalf("create investigation: %v", err)
	}
	ev, err := svc.Submit(ctx, certP, custody.SubmitRequest{
		InvestigationID: inv.ID,
		FileName:        "test.txt",
		MIMEType:        "text/plain",
		Content:         []byte("test"),
	})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	if ev.Digest != testDigest {
		log.Fatalf("digest = %s, want %s", ev.Digest, testDigest)
	}
	res, err := svc.Verify(ctx, certP, ev.ID)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	if !res.Verified {
		log.Fatalf("verification failed: %+v", res)
	}

	// GUID anonymization and privileged resolution.
	resolver, err := anon.NewResolver(anon.NewMemoryStore(), dir)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	m, err := resolver.Mint(ctx, admin.ID)
	if err != nil {
		log.Fatalf("mint: %v", err)
	}
	if _, err := resolver.Resolve(ctx, certP, m.GUID, "smoke"); !errors.Is(err, auth.ErrUnauthorized) {
		log.Fatalf("investigator resolve err = %v, want unauthorized", err)
	}
	resolved, err := resolver.Resolve(ctx, courtP, m.GUID, "smoke check")
	if err != nil {
		log.Fatalf("court resolve: %v", err)
	}
	if resolved.ID != admin.ID {
		log.Fatalf("resolved %s, want %s", resolved.ID, admin.ID)
	}

	// Archive, then reopen.
	if _, err := archiver.Archive(ctx, courtP, inv.ID); err != nil {
		log.Fatalf("archive: %v", err)
	}
	if err := archiver.Reopen(ctx, courtP, inv.ID, "new findings"); err != nil {
		log.Fatalf("reopen: %v", err)
	}

	// Revocation bites on the next authentication.
	if err := mgr.RevokeCertificate(ctx, adminP, cert.ID, "smoke teardown"); err != nil {
		log.Fatalf("revoke: %v", err)
	}
	if _, err := authn.Authenticate(ctx, cert.Serial, cert.Fingerprint); !errors.Is(err, pki.ErrCertRevoked) {
		log.Fatalf("post-revocation authenticate err = %v, want revoked", err)
	}

	fmt.Println("smoke test passed")
}

func mustUser(ctx context.Context, dir *auth.MemoryDirectory, username string, roles ...string) *auth.User {
	u := &auth.User{Username: username, Email: username + "@custodia.test"}
	hash, err := auth.HashPassword(username + "-password")
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	if err := dir.Create(ctx, u, hash); err != nil {
		log.Fatalf("create user %s: %v", username, err)
	}
	for _, role := range roles {
		if err := dir.AssignRole(ctx, u.ID, role); err != nil {
			log.Fatalf("assign role: %v", err)
		}
	}
	return u
}

func principal(ctx context.Context, dir *auth.MemoryDirectory, u *auth.User) auth.Principal {
	roles, err := dir.Roles(ctx, u.ID)
	if err != nil {
		log.Fatalf("roles: %v", err)
	}
	return auth.Principal{User: *u, Roles: roles, AuthnMethod: auth.MethodCertificate}
}
