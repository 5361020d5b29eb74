package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	t.Setenv("CUSTODIA_AUTH_SECRET", "test-secret")
	ResetSecretCache()
	defer ResetSecretCache()

	p := Principal{
		User:        User{ID: "user-42", Status: UserStatusActive},
		Roles:       []string{"Court", "court", "auditor"},
		AuthnMethod: MethodCertificate,
		MFAVerified: true,
	}
	token, err := IssueSessionToken(p, 30*time.Minute)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}

	claims, err := ParseSessionToken(token)
	if err != nil {
		t.Fatalf("ParseSessionToken: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.AuthnMethod != MethodCertificate {
		t.Fatalf("unexpected authn method: %s", claims.AuthnMethod)
	}
	if !claims.MFAVerified {
		t.Fatal("mfa_verified claim lost")
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestSessionTokenRejectsGarbage(t *testing.T) {
	t.Setenv("CUSTODIA_AUTH_SECRET", "test-secret")
	ResetSecretCache()
	defer ResetSecretCache()

	if _, err := ParseSessionToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseSessionToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := t.Context()

	u := &User{Username: "alice", Email: "alice@example.com"}
	if err := dir.Create(ctx, u, "hash"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := dir.Create(ctx, &User{Username: "alice"}, "hash"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username must conflict, got %v", err)
	}

	if err := dir.AssignRole(ctx, u.ID, RoleInvestigator); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := dir.AssignRole(ctx, u.ID, RoleInvestigator); err != nil {
		t.Fatalf("AssignRole should be idempotent: %v", err)
	}
	roles, err := dir.Roles(ctx, u.ID)
	if err != nil || len(roles) != 1 {
		t.Fatalf("Roles: %v %v", roles, err)
	}

	got, err := dir.LookupByUsername(ctx, "alice")
	if err != nil || got.ID != u.ID {
		t.Fatalf("LookupByUsername: %v %v", got, err)
	}
	if _, err := dir.Lookup(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
