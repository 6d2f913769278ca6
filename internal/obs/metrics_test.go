package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                        "/",
		"/metrics":                                "/metrics",
		"/api/appointments/42":                    "/api/appointments/:id",
		"/api/appointments/42/approve":            "/api/appointments/:id/approve",
		"/api/appointments/7/images/medicine":     "/api/appointments/:id/images/medicine",
		"/api/doctors/3":                          "/api/doctors/:id",
		"/api/doctor/appointments?status=pending": "/api/doctor/appointments",
		"/api/doctor/pending/ws":                  "/api/doctor/pending/ws",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
