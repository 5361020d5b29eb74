package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"custodia.org/internal/auth"
	"custodia.org/internal/pki"
)

type createCARequest struct {
	Name         string `json:"name"`
	ValidityDays int    `json:"validity_days"`
}

type issueCertRequest struct {
	UserID       string `json:"user_id"`
	ValidityDays int    `json:"validity_days"`
}

type revokeCertRequest struct {
	Reason string `json:"reason"`
}

type bundleRequest struct {
	Password string `json:"password"`
}

func (a *API) handleCA(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	var req createCARequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.ValidityDays <= 0 {
		writeError(w, r, http.StatusBadRequest, "name and a positive validity_days are required")
		return
	}
	ca, err := a.pki.CreateAuthority(r.Context(), p, strings.TrimSpace(req.Name), req.ValidityDays)
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ca)
}

func (a *API) handleCertificates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	var req issueCertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" || req.ValidityDays <= 0 {
		writeError(w, r, http.StatusBadRequest, "user_id and a positive validity_days are required")
		return
	}
	cert, err := a.pki.IssueCertificate(r.Context(), p, strings.TrimSpace(req.UserID), req.ValidityDays)
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/pki/certificates/"+cert.ID)
	writeJSON(w, http.StatusCreated, cert)
}

func (a *API) handleCertificateResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/pki/certificates/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, found := strings.CutSuffix(path, "/revoke"); found {
		a.revokeCertificate(w, r, id)
		return
	}
	if id, found := strings.CutSuffix(path, "/bundle"); found {
		a.exportBundle(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) revokeCertificate(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	var req revokeCertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.pki.RevokeCertificate(r.Context(), p, id, strings.TrimSpace(req.Reason)); err != nil {
		handlePKIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (a *API) exportBundle(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.verifiedPrincipal(w, r); !ok {
		return
	}
	var req bundleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}
	sealed, err := a.pki.ExportBundle(r.Context(), id, req.Password)
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="certificate-bundle.sealed"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sealed)
}

// handleCRL serves the signed revocation list. The TLS terminator polls it
// unauthenticated.
func (a *API) handleCRL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	crl, err := a.pki.ExportCRL(r.Context())
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(crl.PEM))
}

func handlePKIError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, pki.ErrActiveCAExists), errors.Is(err, pki.ErrAlreadyRevoked), errors.Is(err, pki.ErrNoActiveCA):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, pki.ErrUserNotFound), errors.Is(err, pki.ErrCertNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
