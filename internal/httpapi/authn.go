package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"custodia.org/internal/auth"
)

// Headers forwarded by the TLS terminator after client-certificate
// verification. The terminator owns chain-of-trust validation; this layer
// maps the serial to a user and re-checks revocation on every request.
const (
	headerClientVerify      = "X-SSL-Client-Verify"
	headerClientSerial      = "X-SSL-Client-Serial"
	headerClientFingerprint = "X-SSL-Client-Fingerprint"

	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/login",
	"/v1/pki/crl",
	"/",
}

// withAuth resolves the caller's principal from a bearer session token or
// from the terminator's certificate headers and attaches it to the context.
// Rejection is deferred to the handlers so public routes stay public.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if token := bearerToken(r.Header.Get(authHeader)); token != "" {
			principal, err := a.principalFromToken(r, token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
			return
		}

		if strings.EqualFold(r.Header.Get(headerClientVerify), "SUCCESS") {
			principal, err := a.principalFromCertificate(r)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "certificate rejected")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
			return
		}

		// No credentials: handlers decide whether that is acceptable.
		next.ServeHTTP(w, r)
	})
}

// principalFromToken validates the session JWT and refreshes the user record
// so a disabled account loses access before the token expires.
func (a *API) principalFromToken(r *http.Request, token string) (auth.Principal, error) {
	claims, err := auth.ParseSessionToken(token)
	if err != nil {
		return auth.Principal{}, err
	}
	user, err := a.dir.Lookup(r.Context(), claims.Subject)
	if err != nil {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	if user.Status != auth.UserStatusActive {
		return auth.Principal{}, auth.ErrUnauthorized
	}
	return auth.Principal{
		User:        *user,
		Roles:       claims.Roles,
		AuthnMethod: claims.AuthnMethod,
		MFAVerified: claims.MFAVerified,
	}, nil
}

// principalFromCertificate maps the forwarded serial to a user. Revocation
// state is read freshly per request; a revoked certificate fails here on the
// very next request.
func (a *API) principalFromCertificate(r *http.Request) (auth.Principal, error) {
	serial, err := parseSerial(r.Header.Get(headerClientSerial))
	if err != nil {
		return auth.Principal{}, err
	}
	fingerprint := strings.TrimSpace(r.Header.Get(headerClientFingerprint))
	return a.authn.Authenticate(r.Context(), serial, fingerprint)
}

// parseSerial accepts the decimal or hex form terminators emit.
func parseSerial(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("missing client serial")
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v, nil
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 64)
	if err != nil {
		return 0, errors.New("malformed client serial")
	}
	return v, nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

// principal extracts the authenticated principal or writes 401.
func (a *API) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return p, true
}

// verifiedPrincipal additionally enforces the MFA gate: any route touching
// custody state requires a verified session.
func (a *API) verifiedPrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := a.principal(w, r)
	if !ok {
		return auth.Principal{}, false
	}
	if !p.MFAVerified {
		writeError(w, r, http.StatusForbidden, "mfa verification required")
		return auth.Principal{}, false
	}
	return p, true
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
