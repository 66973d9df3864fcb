// Package security holds the request gates: signature verification and destination allow-listing.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMissingSignature is returned when a secret is configured but no signature was sent.
	ErrMissingSignature = errors.New("missing signature")
	// ErrBadSignature covers malformed and mismatching signatures.
	ErrBadSignature = errors.New("bad signature")
)

// Authenticator verifies HMAC-SHA256 signatures over raw request bodies.
// With an empty secret every request passes.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator builds an Authenticator for secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether signatures are enforced.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Verify checks the hex signature header against body. A "sha256=" prefix is accepted.
func (a *Authenticator) Verify(body []byte, signature string) error {
	if !a.Enabled() {
		return nil
	}
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return ErrMissingSignature
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(given, a.digest(body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the hex signature for body. Useful for clients and tests.
func (a *Authenticator) Sign(body []byte) string {
	return hex.EncodeToString(a.digest(body))
}

func (a *Authenticator) digest(body []byte) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
