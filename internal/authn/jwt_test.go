package authn

import (
	"strings"
	"testing"
	"time"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	iss, err := New(strings.Repeat("a", 32), time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := iss.IssueToken("alice", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := iss.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewRejectsShortSecret(t *testing.T) {
	if _, err := New("too-short", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	iss, _ := New(strings.Repeat("b", 32), time.Hour)
	iss.ttl = -time.Hour
	token, _ := iss.IssueToken("bob", "viewer")
	if _, err := iss.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	iss, _ := New(strings.Repeat("c", 32), time.Hour)
	token, _ := iss.IssueToken("carol", "admin")
	tampered := token[:len(token)-2] + "xx"
	if _, err := iss.ValidateToken(tampered); err == nil {
		t.Fatal("expected tampered signature to be rejected")
	}
}

func TestValidateRejectsDifferentSecret(t *testing.T) {
	iss1, _ := New(strings.Repeat("d", 32), time.Hour)
	iss2, _ := New(strings.Repeat("e", 32), time.Hour)
	token, _ := iss1.IssueToken("dan", "operator")
	if _, err := iss2.ValidateToken(token); err == nil {
		t.Fatal("expected token signed by a different secret to fail validation")
	}
}
