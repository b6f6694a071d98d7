package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowlistEntries(t *testing.T) {
	if _, err := NewAllowlist([]string{"10.0.0.0/33"}, ""); err == nil {
		t.Error("expected error for bad CIDR")
	}
	if _, err := NewAllowlist([]string{"not-an-ip"}, ""); err == nil {
		t.Error("expected error for bad IP")
	}
	a, err := NewAllowlist([]string{" 10.1.0.0/16", "192.168.1.5", "", "fd00::/8"}, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cases := map[string]bool{
		"10.1.2.3":    true,
		"10.2.0.1":    false,
		"192.168.1.5": true,
		"192.168.1.6": false,
		"fd00::1":     true,
	}
	for addr, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr + ":1234"
		if addr == "fd00::1" {
			req.RemoteAddr = "[fd00::1]:1234"
		}
		if got := a.Allowed(a.clientIP(req)); got != want {
			t.Errorf("%s: expected %v, got %v", addr, want, got)
		}
	}
}

func TestAllowlistWrap(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	empty, _ := NewAllowlist(nil, "")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.9:80"
	rec := httptest.NewRecorder()
	empty.Wrap(ok).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("empty allowlist must pass, got %d", rec.Code)
	}

	a, _ := NewAllowlist([]string{"10.0.0.0/8"}, "X-Forwarded-For")
	h := a.Wrap(ok)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.9:80"
	req.Header.Set("X-Forwarded-For", "10.3.3.3, 203.0.113.9")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected forwarded IP to pass, got %d", rec.Code)
	}
}
