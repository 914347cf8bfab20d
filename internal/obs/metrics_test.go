package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/v1/auth/login":              "/v1/auth/login",
		"/v1/users/01ABC/permissions": "/v1/users/:id/permissions",
		"/v1/users/01ABC/permissions/canEditItem": "/v1/users/:id/permissions/:name",
		"/v1/users/01ABC/extra":                   "/v1/users/01ABC/extra",
		"/v1/auth/login?next=/home":               "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
