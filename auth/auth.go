// Package auth answers one question for the gateway: is this caller allowed
// in? Callers present either the internal shared secret (service-to-service
// traffic) or a session token previously issued in exchange for the dashboard
// secret. Everything else about identity is out of scope.
package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCredential = errors.New("auth: credential rejected")
	ErrNoVerifier    = errors.New("auth: secret hash is required")
)

// Principal identifies an authenticated caller.
type Principal struct {
	Kind      string // "service" or "session"
	SessionID string // set for session principals
}

// CredentialParser validates a raw credential and resolves its principal.
type CredentialParser interface {
	Parse(ctx context.Context, raw string) (Principal, error)
}

// SecretVerifier checks presented secrets against a bcrypt hash. The hash,
// not the secret, is what operators put in configuration.
type SecretVerifier struct {
	hash []byte
}

func NewSecretVerifier(bcryptHash string) (*SecretVerifier, error) {
	if bcryptHash == "" {
		return nil, ErrNoVerifier
	}
	if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
		return nil, errors.Join(ErrNoVerifier, err)
	}
	return &SecretVerifier{hash: []byte(bcryptHash)}, nil
}

// Verify reports whether secret matches the configured hash.
func (v *SecretVerifier) Verify(secret string) error {
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(secret)); err != nil {
		return ErrBadCredential
	}
	return nil
}

// Parse lets a SecretVerifier act directly as a CredentialParser for the
// service-to-service path.
func (v *SecretVerifier) Parse(_ context.Context, raw string) (Principal, error) {
	if err := v.Verify(raw); err != nil {
		return Principal{}, err
	}
	return Principal{Kind: "service"}, nil
}

// ChainParsers tries each parser in order and returns the first success.
func ChainParsers(parsers ...CredentialParser) CredentialParser {
	copied := append([]CredentialParser(nil), parsers...)
	return chainParser(copied)
}

type chainParser []CredentialParser

func (c chainParser) Parse(ctx context.Context, raw string) (Principal, error) {
	var lastErr error = ErrBadCredential
	for _, parser := range c {
		if parser == nil {
			continue
		}
		principal, err := parser.Parse(ctx, raw)
		if err == nil {
			return principal, nil
		}
		lastErr = err
	}
	return Principal{}, lastErr
}
