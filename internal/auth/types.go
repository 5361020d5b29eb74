package auth

import "time"

// User represents a person known to the platform's user directory.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Built-in role names. Roles are coarse; the fine-grained decision lives in
// Authorize.
const (
	RoleAdmin        = "admin"
	RoleInvestigator = "investigator"
	RoleCourt        = "court"
	RoleAuditor      = "auditor"
	RoleSubmitter    = "submitter"
)

// Authentication methods recorded on the principal. Downstream policy
// (MFA enforcement in particular) depends on which path authenticated the
// request.
const (
	MethodPassword    = "password"
	MethodCertificate = "certificate"
)

// Principal is the authenticated identity passed explicitly through every
// service call. There is no request-global user state.
type Principal struct {
	User        User
	Roles       []string
	AuthnMethod string
	MFAVerified bool
}

// HasRole reports whether the principal carries the named role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
