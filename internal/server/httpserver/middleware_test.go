package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kitedb/kitesync/internal/core/service"
	"github.com/kitedb/kitesync/internal/telemetry/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	return l
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestIDFromContext(r.Context())
	}), RequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if seen == "" {
		t.Fatal("request ID missing from context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}

	// A caller-supplied ID is preserved.
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-upstream")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-upstream" {
		t.Errorf("context ID = %q, want caller's req-upstream", seen)
	}
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), RequestID(), Recover(testLogger(t)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/replication/status", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != "KS-SYS-5000" {
		t.Errorf("X-Error-Code = %q, want KS-SYS-5000", got)
	}
}

func TestRateLimit(t *testing.T) {
	h := Chain(okHandler(), RateLimit(1, 1))

	req := httptest.NewRequest("GET", "/replication/promote", nil)
	req.RemoteAddr = "10.0.0.1:4242"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != "KS-SYS-4290" {
		t.Errorf("X-Error-Code = %q, want KS-SYS-4290", got)
	}

	// A different client has its own bucket.
	other := httptest.NewRequest("GET", "/replication/promote", nil)
	other.RemoteAddr = "10.0.0.2:4242"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestAdminGateMiddleware(t *testing.T) {
	gate, err := service.NewAdminGate(service.AdminGateConfig{
		Mode:  service.AuthModeToken,
		Token: "s3cret",
	})
	if err != nil {
		t.Fatalf("NewAdminGate() error = %v", err)
	}
	h := Chain(okHandler(), AdminGate(gate))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/replication/promote", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != "KS-AUTH-4010" {
		t.Errorf("X-Error-Code = %q, want KS-AUTH-4010", got)
	}

	req := httptest.NewRequest("POST", "/replication/promote", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", rec.Code)
	}
}

func TestNetworkACL(t *testing.T) {
	h := Chain(okHandler(), NetworkACL(&NetworkACLConfig{
		AllowList: []string{"10.1.0.0/16", "192.168.1.9"},
		Logger:    testLogger(t),
	}))

	tests := []struct {
		name string
		ip   string
		want int
	}{
		{name: "cidr match", ip: "10.1.42.7", want: http.StatusOK},
		{name: "single ip match", ip: "192.168.1.9", want: http.StatusOK},
		{name: "outside allowlist", ip: "172.16.0.1", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/replication/promote", nil)
			req.RemoteAddr = tt.ip + ":5000"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestNetworkACL_EmptyAllowListAllowsAll(t *testing.T) {
	h := Chain(okHandler(), NetworkACL(&NetworkACLConfig{Logger: testLogger(t)}))
	req := httptest.NewRequest("POST", "/replication/promote", nil)
	req.RemoteAddr = "203.0.113.50:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
