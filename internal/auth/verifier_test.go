package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestVerifyRoundTrip(t *testing.T) {
	verifier, err := NewHMACVerifier("test-secret")
	if err != nil {
		t.Fatalf("new verifier failed: %v", err)
	}

	token := verifier.Issue("user-1")
	got, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got != "user-1" {
		t.Errorf("user = %q, want user-1", got)
	}
}

func TestVerifyUserIDWithDots(t *testing.T) {
	verifier, err := NewHMACVerifier("test-secret")
	if err != nil {
		t.Fatalf("new verifier failed: %v", err)
	}

	token := verifier.Issue("teacher.smith@school.example")
	got, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got != "teacher.smith@school.example" {
		t.Errorf("user = %q", got)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	verifier, err := NewHMACVerifier("test-secret")
	if err != nil {
		t.Fatalf("new verifier failed: %v", err)
	}
	other, err := NewHMACVerifier("other-secret")
	if err != nil {
		t.Fatalf("new verifier failed: %v", err)
	}

	valid := verifier.Issue("user-1")
	flipped := "0"
	if strings.HasSuffix(valid, "0") {
		flipped = "1"
	}
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no signature", "user-1"},
		{"empty signature", "user-1."},
		{"empty user", "." + strings.SplitN(valid, ".", 2)[1]},
		{"tampered user", "user-2." + strings.SplitN(valid, ".", 2)[1]},
		{"tampered signature", valid[:len(valid)-1] + flipped},
		{"wrong secret", other.Issue("user-1")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := verifier.Verify(context.Background(), tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify(%q) = %v, want ErrInvalidToken", tc.token, err)
			}
		})
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := NewHMACVerifier(""); err == nil {
		t.Error("empty secret must be rejected")
	}
}
