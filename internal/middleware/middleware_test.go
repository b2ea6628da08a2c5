package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sethdford/fleetctl/internal/authn"
)

func TestAuthRejectsMissingHeader(t *testing.T) {
	iss, _ := authn.New(strings.Repeat("a", 32), 0)
	h := Auth(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthInjectsSubjectAndRole(t *testing.T) {
	iss, _ := authn.New(strings.Repeat("b", 32), 0)
	token, _ := iss.IssueToken("alice", "operator")

	var gotSubject, gotRole string
	h := Auth(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = Subject(r.Context())
		gotRole, _ = Role(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSubject != "alice" || gotRole != "operator" {
		t.Fatalf("expected alice/operator, got %s/%s", gotSubject, gotRole)
	}
}

func TestCORSHandlesPreflight(t *testing.T) {
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("downstream handler should not run for OPTIONS")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header set")
	}
}
