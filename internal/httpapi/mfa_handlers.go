package httpapi

import (
	"errors"
	"net/http"

	"custodia.org/internal/audit"
	"custodia.org/internal/mfa"
)

type mfaCodeRequest struct {
	Code string `json:"code"`
}

func (a *API) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	label := p.User.Email
	if label == "" {
		label = p.User.Username
	}
	enr, err := a.gate.BeginEnrollment(r.Context(), p.User.ID, label)
	if err != nil {
		handleMFAError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enr)
}

// handleMFAConfirm binds the pending secret after the user proves
// possession and upgrades the session to verified in one step.
func (a *API) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req mfaCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.gate.ConfirmEnrollment(r.Context(), p.User.ID, req.Code); err != nil {
		handleMFAError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "mfa.enrollment.confirmed", map[string]any{"user": p.User.ID})
	p.MFAVerified = true
	a.issueSession(w, r, p)
}

// handleMFAChallenge verifies a code against the stored secret and upgrades
// the session.
func (a *API) handleMFAChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req mfaCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.gate.Verify(r.Context(), p.User.ID, req.Code); err != nil {
		handleMFAError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "mfa.challenge.passed", map[string]any{"user": p.User.ID})
	p.MFAVerified = true
	a.issueSession(w, r, p)
}

func (a *API) handleMFAStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	state, err := a.gate.Status(r.Context(), p.User.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":            state,
		"session_verified": p.MFAVerified,
	})
}

func handleMFAError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mfa.ErrInvalidCode):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, mfa.ErrThrottled):
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, mfa.ErrAlreadyEnrolled),
		errors.Is(err, mfa.ErrNoPendingEnrollment),
		errors.Is(err, mfa.ErrNotEnrolled):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
