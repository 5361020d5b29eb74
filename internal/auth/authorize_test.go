package auth

import (
	"errors"
	"testing"
)

func TestAuthorizeByRole(t *testing.T) {
	court := Principal{
		User:  User{ID: "u-court", Status: UserStatusActive},
		Roles: []string{RoleCourt},
	}
	submitter := Principal{
		User:  User{ID: "u-sub", Status: UserStatusActive},
		Roles: []string{RoleSubmitter},
	}

	if err := Authorize(court, ActionArchive, "inv-1"); err != nil {
		t.Fatalf("court should archive: %v", err)
	}
	if err := Authorize(court, ActionGUIDResolve, "guid-1"); err != nil {
		t.Fatalf("court should resolve GUIDs: %v", err)
	}
	if err := Authorize(submitter, ActionArchive, "inv-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("submitter must not archive, got %v", err)
	}
	if err := Authorize(submitter, ActionEvidenceSubmit, "inv-1"); err != nil {
		t.Fatalf("submitter should submit evidence: %v", err)
	}
	if err := Authorize(submitter, ActionGUIDResolve, "guid-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("submitter must not resolve GUIDs, got %v", err)
	}
}

func TestAuthorizeRejectsInactiveUser(t *testing.T) {
	p := Principal{
		User:  User{ID: "u1", Status: UserStatusDisabled},
		Roles: []string{RoleAdmin},
	}
	if err := Authorize(p, ActionCertIssue, "user:alice"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("disabled user must be rejected, got %v", err)
	}
}

func TestAuthorizeUnknownAction(t *testing.T) {
	p := Principal{User: User{ID: "u1", Status: UserStatusActive}, Roles: []string{RoleAdmin}}
	if err := Authorize(p, Action("nope"), "x"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown action must be rejected, got %v", err)
	}
}
