package httpapi

import (
	"net/http"
	"strings"
	"time"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	AuthnMethod string    `json:"authn_method"`
	MFAVerified bool      `json:"mfa_verified"`
}

const defaultSessionTTL = 8 * time.Hour

func (a *API) sessionTTLOrDefault() time.Duration {
	if a.sessionTTL > 0 {
		return a.sessionTTL
	}
	return defaultSessionTTL
}

// handleLogin is the password fallback path. The issued session starts
// MFA-unverified; the MFA challenge upgrades it.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := a.dir.LookupByUsername(r.Context(), username)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	hash, err := a.dir.PasswordHash(r.Context(), user.ID)
	if err != nil || auth.VerifyPassword(hash, req.Password) != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.Status != auth.UserStatusActive {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	roles, err := a.dir.Roles(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.issueSession(w, r, auth.Principal{
		User:        *user,
		Roles:       roles,
		AuthnMethod: auth.MethodPassword,
	})
}

// handleSession exchanges terminator-verified certificate headers for a
// session token. The certificate principal is resolved by the middleware.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if p.AuthnMethod != auth.MethodCertificate {
		writeError(w, r, http.StatusBadRequest, "certificate authentication required")
		return
	}
	a.issueSession(w, r, p)
}

func (a *API) issueSession(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	ttl := a.sessionTTLOrDefault()
	token, err := auth.IssueSessionToken(p, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session issuance failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.session.issued", map[string]any{
		"user":         p.User.ID,
		"authn_method": p.AuthnMethod,
		"mfa_verified": p.MFAVerified,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:       token,
		ExpiresAt:   time.Now().UTC().Add(ttl),
		AuthnMethod: p.AuthnMethod,
		MFAVerified: p.MFAVerified,
	})
}
