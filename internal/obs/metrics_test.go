package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/v1/investigations/abc":               "/v1/investigations/:id",
		"/v1/investigations/abc/archive":       "/v1/investigations/:id/archive",
		"/v1/investigations/abc/evidence":      "/v1/investigations/:id/evidence",
		"/v1/evidence/xyz/verify":              "/v1/evidence/:id/verify",
		"/v1/pki/certificates/abc/revoke":      "/v1/pki/certificates/:id/revoke",
		"/v1/pki/crl":                          "/v1/pki/crl",
		"/v1/guid/resolve":                     "/v1/guid/resolve",
		"/v1/investigations?status=active":     "/v1/investigations",
		"/v1/investigations/abc/evidence/more": "/v1/investigations/abc/evidence/more",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
