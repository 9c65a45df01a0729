package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func secretHash(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	return string(hash)
}

func TestSecretVerifier(t *testing.T) {
	verifier, err := NewSecretVerifier(secretHash(t, "s3cret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := verifier.Verify("s3cret"); err != nil {
		t.Fatalf("correct secret rejected: %v", err)
	}
	if err := verifier.Verify("wrong"); !errors.Is(err, ErrBadCredential) {
		t.Fatalf("expected ErrBadCredential, got %v", err)
	}
}

func TestSecretVerifierRejectsBadHash(t *testing.T) {
	for _, hash := range []string{"", "not-a-bcrypt-hash"} {
		if _, err := NewSecretVerifier(hash); !errors.Is(err, ErrNoVerifier) {
			t.Fatalf("hash %q: expected ErrNoVerifier, got %v", hash, err)
		}
	}
}

func TestSecretVerifierAsParser(t *testing.T) {
	verifier, err := NewSecretVerifier(secretHash(t, "s3cret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	principal, err := verifier.Parse(context.Background(), "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal.Kind != "service" {
		t.Fatalf("expected service principal, got %q", principal.Kind)
	}

	if _, err := verifier.Parse(context.Background(), "wrong"); err == nil {
		t.Fatal("expected rejection")
	}
}

type staticParser struct {
	accept string
	kind   string
}

func (p staticParser) Parse(_ context.Context, raw string) (Principal, error) {
	if raw != p.accept {
		return Principal{}, ErrBadCredential
	}
	return Principal{Kind: p.kind}, nil
}

func TestChainParsers(t *testing.T) {
	chain := ChainParsers(
		staticParser{accept: "alpha", kind: "service"},
		staticParser{accept: "beta", kind: "session"},
	)

	tests := []struct {
		raw      string
		wantKind string
		wantErr  bool
	}{
		{raw: "alpha", wantKind: "service"},
		{raw: "beta", wantKind: "session"},
		{raw: "gamma", wantErr: true},
	}
	for _, tt := range tests {
		principal, err := chain.Parse(context.Background(), tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.raw, err)
		}
		if principal.Kind != tt.wantKind {
			t.Fatalf("%q: expected kind %q, got %q", tt.raw, tt.wantKind, principal.Kind)
		}
	}
}
