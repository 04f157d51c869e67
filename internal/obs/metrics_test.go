package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/users/abc":                "/v1/users/:id",
		"/v1/users/me":                 "/v1/users/me",
		"/v1/roles/01HXYZ":             "/v1/roles/:id",
		"/v1/actions/01HXYZ":           "/v1/actions/:id",
		"/v1/users/abc/extra":          "/v1/users/abc/extra",
		"/v1/auth/signin":              "/v1/auth/signin",
		"/v1/otps/verify":              "/v1/otps/verify",
		"/v1/users?limit=10":           "/v1/users",
		"/v1/roles/01HXYZ?fields=name": "/v1/roles/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
