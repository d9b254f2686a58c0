package localtoken

import (
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	a, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tok, err := a.Issue("node-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := a.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "node-1" {
		t.Fatalf("Subject = %q, want node-1", claims.Subject)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	key, _ := GenerateKey()
	a, _ := New(key)
	tok, _ := a.Issue("node-1")
	tok[len(tok)-1] ^= 0xff
	if _, err := a.Verify(tok); err == nil {
		t.Fatalf("expected tampered token to fail verification")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key, _ := GenerateKey()
	a, err := NewWithTTL(key, -time.Second)
	if err != nil {
		t.Fatalf("NewWithTTL: %v", err)
	}
	tok, err := a.Issue("node-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := a.Verify(tok); err == nil {
		t.Fatalf("expected expired token to fail verification")
	}
}

func TestVerifyRejectsDifferentKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	a1, _ := New(key1)
	a2, _ := New(key2)
	tok, _ := a1.Issue("node-1")
	if _, err := a2.Verify(tok); err == nil {
		t.Fatalf("expected token sealed under a different key to fail verification")
	}
}
