package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"custodia.org/internal/auth"
	"custodia.org/internal/custody"
)

type createInvestigationRequest struct {
	CaseNumber  string `json:"case_number"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type submitEvidenceRequest struct {
	FileName     string `json:"file_name"`
	MIMEType     string `json:"mime_type"`
	Content      string `json:"content"` // base64
	UploaderGUID string `json:"uploader_guid,omitempty"`
}

type reopenRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleInvestigations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvestigation(w, r)
	case http.MethodGet:
		a.listInvestigations(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleInvestigationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/investigations/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, found := strings.CutSuffix(path, "/evidence"); found {
		switch r.Method {
		case http.MethodPost:
			a.submitEvidence(w, r, id)
		case http.MethodGet:
			a.listEvidence(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
		return
	}
	if id, found := strings.CutSuffix(path, "/archive"); found {
		a.archiveInvestigation(w, r, id)
		return
	}
	if id, found := strings.CutSuffix(path, "/reopen"); found {
		a.reopenInvestigation(w, r, id)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getInvestigation(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleEvidenceResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/evidence/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if id, found := strings.CutSuffix(path, "/verify"); found {
		a.verifyEvidence(w, r, id)
		return
	}
	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) createInvestigation(w http.ResponseWriter, r *http.Request) {
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	var req createInvestigationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := a.custody.CreateInvestigation(r.Context(), p,
		strings.TrimSpace(req.CaseNumber), strings.TrimSpace(req.Title), req.Description)
	if err != nil {
		handleCustodyError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/investigations/"+inv.ID)
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) listInvestigations(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.verifiedPrincipal(w, r); !ok {
		return
	}
	items, err := a.custody.ListInvestigations(r.Context())
	if err != nil {
		handleCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getInvestigation(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.verifiedPrincipal(w, r); !ok {
		return
	}
	inv, err := a.custody.Investigation(r.Context(), id)
	if err != nil {
		handleCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) submitEvidence(w http.ResponseWriter, r *http.Request, investigationID string) {
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	var req submitEvidenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "content must be base64")
		return
	}

	ev, err := a.custody.Submit(r.Context(), p, custody.SubmitRequest{
		InvestigationID: investigationID,
		Uploader:        strings.TrimSpace(req.UploaderGUID),
		FileName:        req.FileName,
		MIMEType:        req.MIMEType,
		Content:         content,
	})
	if err != nil {
		// A timeout is not a hard failure: the submission is parked and the
		// client retries with the same bytes.
		if errors.Is(err, custody.ErrPendingReconciliation) {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"status": "pending_reconciliation",
				"detail": err.Error(),
			})
			return
		}
		handleCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (a *API) listEvidence(w http.ResponseWriter, r *http.Request, investigationID string) {
	if _, ok := a.verifiedPrincipal(w, r); !ok {
		return
	}
	items, err := a.custody.EvidenceByInvestigation(r.Context(), investigationID)
	if err != nil {
		handleCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) verifyEvidence(w http.ResponseWriter, r *http.Request, evidenceID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	res, err := a.custody.Verify(r.Context(), p, evidenceID)
	if err != nil {
		handleCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) archiveInvestigation(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	res, err := a.archiver.Archive(r.Context(), p, id)
	if err != nil {
		handleCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) reopenInvestigation(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.verifiedPrincipal(w, r)
	if !ok {
		return
	}
	var req reopenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.archiver.Reopen(r.Context(), p, id, strings.TrimSpace(req.Reason)); err != nil {
		handleCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": custody.StatusActive})
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.verifiedPrincipal(w, r); !ok {
		return
	}
	items, err := a.custody.PendingSubmissions(r.Context())
	if err != nil {
		handleCustodyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func handleCustodyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, custody.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, custody.ErrInvalidInput), errors.Is(err, custody.ErrReasonRequired):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, custody.ErrCaseNumberTaken),
		errors.Is(err, custody.ErrInvestigationArchived),
		errors.Is(err, custody.ErrAlreadyArchived),
		errors.Is(err, custody.ErrNotArchived),
		errors.Is(err, custody.ErrArchiveIncomplete):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
