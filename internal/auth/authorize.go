package auth

import "fmt"

// Action identifies an operation subject to authorization.
type Action string

const (
	ActionCACreate          = Action("pki.ca.create")
	ActionCertIssue         = Action("pki.cert.issue")
	ActionCertRevoke        = Action("pki.cert.revoke")
	ActionInvestigationOpen = Action("custody.investigation.create")
	ActionEvidenceSubmit    = Action("custody.evidence.submit")
	ActionEvidenceVerify    = Action("custody.evidence.verify")
	ActionArchive           = Action("custody.archive")
	ActionReopen            = Action("custody.reopen")
	ActionGUIDResolve       = Action("anon.guid.resolve")
)

// rolesFor maps each action to the roles permitted to perform it.
var rolesFor = map[Action][]string{
	ActionCACreate:          {RoleAdmin},
	ActionCertIssue:         {RoleAdmin},
	ActionCertRevoke:        {RoleAdmin},
	ActionInvestigationOpen: {RoleAdmin, RoleInvestigator},
	ActionEvidenceSubmit:    {RoleAdmin, RoleInvestigator, RoleSubmitter},
	ActionEvidenceVerify:    {RoleAdmin, RoleInvestigator, RoleCourt, RoleAuditor},
	ActionArchive:           {RoleCourt},
	ActionReopen:            {RoleCourt},
	ActionGUIDResolve:       {RoleCourt, RoleAuditor},
}

// Authorize is the single authorization decision point. Every mutating
// component method calls it explicitly with the acting principal, the action
// and the resource identifier before touching state.
func Authorize(p Principal, action Action, resource string) error {
	allowed, ok := rolesFor[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %s", ErrUnauthorized, action)
	}
	if p.User.Status != UserStatusActive {
		return fmt.Errorf("%w: user %s is not active", ErrUnauthorized, p.User.ID)
	}
	for _, role := range allowed {
		if p.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not %s %s", ErrUnauthorized, p.User.ID, action, resource)
}
