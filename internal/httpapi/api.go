// Package httpapi is the HTTP surface over the custody core: PKI
// administration, evidence submission and verification, investigation
// lifecycle, GUID anonymization and the MFA endpoints. Authentication rides
// on the TLS terminator's client-certificate headers or a session token.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"custodia.org/internal/anon"
	"custodia.org/internal/auth"
	"custodia.org/internal/custody"
	"custodia.org/internal/mfa"
	"custodia.org/internal/obs"
	"custodia.org/internal/pki"
)

// ReadyProbe checks backing-store readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the wired services for the API.
type Config struct {
	ReadyProbe ReadyProbe
	Version    string

	Directory auth.Directory
	PKI       *pki.Manager
	Authn     *pki.Authenticator
	Gate      *mfa.Gate
	Custody   *custody.Service
	Archiver  *custody.ArchiveService
	Resolver  *anon.Resolver

	SessionTTL time.Duration
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	dir      auth.Directory
	pki      *pki.Manager
	authn    *pki.Authenticator
	gate     *mfa.Gate
	custody  *custody.Service
	archiver *custody.ArchiveService
	resolver *anon.Resolver

	sessionTTL time.Duration
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		dir:        cfg.Directory,
		pki:        cfg.PKI,
		authn:      cfg.Authn,
		gate:       cfg.Gate,
		custody:    cfg.Custody,
		archiver:   cfg.Archiver,
		resolver:   cfg.Resolver,
		sessionTTL: cfg.SessionTTL,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// sessions
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)

	// MFA
	a.mux.HandleFunc("/v1/mfa/enroll", a.handleMFAEnroll)
	a.mux.HandleFunc("/v1/mfa/confirm", a.handleMFAConfirm)
	a.mux.HandleFunc("/v1/mfa/challenge", a.handleMFAChallenge)
	a.mux.HandleFunc("/v1/mfa/status", a.handleMFAStatus)

	// PKI
	a.mux.HandleFunc("/v1/pki/ca", a.handleCA)
	a.mux.HandleFunc("/v1/pki/certificates", a.handleCertificates)
	a.mux.HandleFunc("/v1/pki/certificates/", a.handleCertificateResource)
	a.mux.HandleFunc("/v1/pki/crl", a.handleCRL)

	// custody
	a.mux.HandleFunc("/v1/investigations", a.handleInvestigations)
	a.mux.HandleFunc("/v1/investigations/", a.handleInvestigationResource)
	a.mux.HandleFunc("/v1/evidence/", a.handleEvidenceResource)
	a.mux.HandleFunc("/v1/pending", a.handlePending)

	// anonymization
	a.mux.HandleFunc("/v1/guid", a.handleGUIDMint)
	a.mux.HandleFunc("/v1/guid/resolve", a.handleGUIDResolve)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware-wrapped handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(a.withAuth(a.mux)))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "custodia-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "custodia-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 32<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
