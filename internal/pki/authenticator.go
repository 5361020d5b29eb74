package pki

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"custodia.org/internal/auth"
)

// Authenticator turns a TLS-terminator-verified client certificate into a
// Principal. Revocation and validity are checked against the store on every
// call; there is no in-process cache, so a revoked certificate is rejected on
// the very next request.
type Authenticator struct {
	store Store
	dir   auth.Directory
	now   func() time.Time
}

func NewAuthenticator(store Store, dir auth.Directory) *Authenticator {
	return &Authenticator{store: store, dir: dir, now: time.Now}
}

// Authenticate resolves the presented serial against the active CA. The
// fingerprint, when supplied, must match the issued certificate exactly; a
// mismatch means the serial was presented by a different certificate.
func (a *Authenticator) Authenticate(ctx context.Context, serial int64, fingerprint string) (auth.Principal, error) {
	ca, err := a.store.ActiveAuthority(ctx)
	if err != nil {
		return auth.Principal{}, err
	}
	cert, err := a.store.CertificateBySerial(ctx, ca.ID, serial)
	if err != nil {
		return auth.Principal{}, err
	}
	if cert.Revoked {
		return auth.Principal{}, ErrCertRevoked
	}
	now := a.now().UTC()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return auth.Principal{}, ErrCertExpired
	}
	if fingerprint != "" {
		presented := strings.ToLower(strings.ReplaceAll(fingerprint, ":", ""))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(cert.Fingerprint)) != 1 {
			return auth.Principal{}, ErrFingerprintMismatch
		}
	}

	user, err := a.dir.Lookup(ctx, cert.UserID)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("%w: certificate subject", ErrUserNotFound)
	}
	if user.Status != auth.UserStatusActive {
		return auth.Principal{}, auth.ErrUnauthorized
	}
	roles, err := a.dir.Roles(ctx, user.ID)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{
		User:        *user,
		Roles:       roles,
		AuthnMethod: auth.MethodCertificate,
	}, nil
}
