package auth

import "context"

// Directory is the user-directory collaborator consumed by certificate
// issuance and GUID resolution. Role assignments live alongside users so a
// single lookup yields a complete principal.
type Directory interface {
	Create(ctx context.Context, u *User, passwordHash string) error
	Lookup(ctx context.Context, userID string) (*User, error)
	LookupByUsername(ctx context.Context, username string) (*User, error)
	Roles(ctx context.Context, userID string) ([]string, error)
	AssignRole(ctx context.Context, userID, role string) error
	PasswordHash(ctx context.Context, userID string) (string, error)
}
