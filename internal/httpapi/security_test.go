package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kasbon/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected Access-Control-Allow-Origin *, got %q", got)
	}
}

func TestMiddlewareAnswersPreflight(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/bills", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
	if got := parsePositiveLimit("-5", 50, 200); got != 50 {
		t.Fatalf("expected fallback on negative input, got %d", got)
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.2.3:5431"
	if got := clientKey(req); got != "10.1.2.3" {
		t.Fatalf("clientKey = %q, want 10.1.2.3", got)
	}

	req.RemoteAddr = "[2001:db8::1]:443"
	if got := clientKey(req); got != "2001:db8::1" {
		t.Fatalf("clientKey = %q, want 2001:db8::1", got)
	}

	req.RemoteAddr = ""
	if got := clientKey(req); got != "unknown" {
		t.Fatalf("clientKey = %q, want unknown", got)
	}
}

func TestPathTail(t *testing.T) {
	if got := pathTail("/api/v1/bills/bill-123", "/api/v1/bills/"); got != "bill-123" {
		t.Fatalf("pathTail = %q, want bill-123", got)
	}
	if got := pathTail("/api/v1/bills/bill-123/", "/api/v1/bills/"); got != "bill-123" {
		t.Fatalf("pathTail with trailing slash = %q, want bill-123", got)
	}
	if got := pathTail("/other", "/api/v1/bills/"); got != "" {
		t.Fatalf("pathTail on foreign prefix = %q, want empty", got)
	}
}

func TestParseTimeParam(t *testing.T) {
	if got, err := parseTimeParam(""); err != nil || !got.IsZero() {
		t.Fatalf("empty param: got %v, err %v", got, err)
	}
	if got, err := parseTimeParam("2026-03-10"); err != nil || got != time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("date param: got %v, err %v", got, err)
	}
	if _, err := parseTimeParam("2026-03-10T08:30:00Z"); err != nil {
		t.Fatalf("rfc3339 param: err %v", err)
	}
	if _, err := parseTimeParam("yesterday"); err == nil {
		t.Fatal("expected error for unparseable time")
	}
}

func TestErrStatusMapping(t *testing.T) {
	if got := errStatus(fmt.Errorf("%w: item x", store.ErrNotFound)); got != http.StatusNotFound {
		t.Errorf("not found = %d, want 404", got)
	}
	if got := errStatus(fmt.Errorf("%w: barcode in use", store.ErrConflict)); got != http.StatusConflict {
		t.Errorf("conflict = %d, want 409", got)
	}
	if got := errStatus(fmt.Errorf("%w: subtotal mismatch", store.ErrValidation)); got != http.StatusBadRequest {
		t.Errorf("validation = %d, want 400", got)
	}
	if got := errStatus(fmt.Errorf("%w: item x has 1 in stock", store.ErrInsufficientStock)); got != http.StatusBadRequest {
		t.Errorf("insufficient stock = %d, want 400", got)
	}
	if got := errStatus(errors.New("admin role required")); got != http.StatusForbidden {
		t.Errorf("admin role = %d, want 403", got)
	}
	if got := errStatus(errors.New("connection refused")); got != http.StatusInternalServerError {
		t.Errorf("unknown = %d, want 500", got)
	}
}

func TestAttemptLimiterWindow(t *testing.T) {
	limiter := newAttemptLimiter(2, time.Minute)

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatal("first two attempts should be allowed")
	}
	if limiter.Allow("a") {
		t.Fatal("third attempt inside window should be denied")
	}
	if !limiter.Allow("b") {
		t.Fatal("other keys should be unaffected")
	}
}
