package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"custodia.org/internal/anon"
	"custodia.org/internal/auth"
)

type mintRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type resolveRequest struct {
	GUID   string `json:"guid"`
	Reason string `json:"reason"`
}

// handleGUIDMint mints a fresh GUID. By default the caller anonymizes
// themselves; minting for another user is an admin operation.
func (a *API) handleGUIDMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		target = p.User.ID
	}
	if target != p.User.ID && !p.HasRole(auth.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	m, err := a.resolver.Mint(r.Context(), target)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleGUIDResolve resolves a GUID for a privileged caller. Not-found and
// not-authorized are deliberately indistinguishable in the response so an
// unprivileged caller cannot probe which GUIDs exist.
func (a *API) handleGUIDResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.resolver.Resolve(r.Context(), p, strings.TrimSpace(req.GUID), strings.TrimSpace(req.Reason))
	if err != nil {
		switch {
		case errors.Is(err, anon.ErrReasonRequired):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, anon.ErrNotFound):
			// One opaque rejection for both outcomes.
			writeError(w, r, http.StatusForbidden, "resolution rejected")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
}
